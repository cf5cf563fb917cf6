// Package metrics exposes fleetpulse's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetpulse"

// Recorder receives measurements from the poller and the event hub.
type Recorder interface {
	SetSubscribers(n int)
	SubscriberDropped(reason string)
	EventPublished(kind string)
	ObserveCycle(d time.Duration)
	CycleFailed()
	SetTargetsOnline(group string, online, total int)
	ObserveProbe(probe string, d time.Duration)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) SetSubscribers(int)                 {}
func (Nop) SubscriberDropped(string)           {}
func (Nop) EventPublished(string)              {}
func (Nop) ObserveCycle(time.Duration)         {}
func (Nop) CycleFailed()                       {}
func (Nop) SetTargetsOnline(string, int, int)  {}
func (Nop) ObserveProbe(string, time.Duration) {}

var _ Recorder = Nop{}
var _ Recorder = (*Metrics)(nil)

// Metrics is the Prometheus-backed Recorder. It owns its registry so tests
// and multiple instances do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	subscribers   prometheus.Gauge
	dropped       *prometheus.CounterVec
	events        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleFailures prometheus.Counter
	targets       *prometheus.GaugeVec
	online        *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
}

// New creates and registers all instruments, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of connected event stream subscribers.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed by the hub, by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to subscribers, by type.",
		}, []string{"type"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one full poll cycle.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		cycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycle_failures_total",
			Help:      "Poll cycles aborted by an error or panic.",
		}),
		targets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Registered targets per group.",
		}, []string{"group"}),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets_online",
			Help:      "Targets whose service port answered in the last cycle.",
		}, []string{"group"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of individual probes.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 2, 5},
		}, []string{"probe"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.subscribers,
		m.dropped,
		m.events,
		m.cycleDuration,
		m.cycleFailures,
		m.targets,
		m.online,
		m.probeDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }

func (m *Metrics) SubscriberDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *Metrics) EventPublished(kind string) { m.events.WithLabelValues(kind).Inc() }

func (m *Metrics) ObserveCycle(d time.Duration) { m.cycleDuration.Observe(d.Seconds()) }

func (m *Metrics) CycleFailed() { m.cycleFailures.Inc() }

func (m *Metrics) SetTargetsOnline(group string, online, total int) {
	m.online.WithLabelValues(group).Set(float64(online))
	m.targets.WithLabelValues(group).Set(float64(total))
}

func (m *Metrics) ObserveProbe(probe string, d time.Duration) {
	m.probeDuration.WithLabelValues(probe).Observe(d.Seconds())
}
