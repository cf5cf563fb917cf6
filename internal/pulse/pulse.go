// Package pulse is the monitoring module: it polls the registered targets,
// keeps their last known state and streams changes to subscribers.
package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/event"
	"github.com/HerbHall/fleetpulse/internal/metrics"
	"github.com/HerbHall/fleetpulse/internal/plugin"
	"github.com/HerbHall/fleetpulse/internal/probe"
	"github.com/HerbHall/fleetpulse/internal/store"
	"github.com/HerbHall/fleetpulse/internal/targets"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ event.StateSource    = (*Module)(nil)
)

// Module implements the pulse plugin.
type Module struct {
	logger  *zap.Logger
	cfg     Config
	probes  *probe.Suite
	metrics metrics.Recorder

	registry *targets.Registry
	store    *store.Store
	hub      *event.Hub
	poller   *Poller
	chime    *Chime
	watcher  *targets.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the pulse module using probes for every check.
func New(probes *probe.Suite, rec metrics.Recorder) *Module {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Module{probes: probes, metrics: rec}
}

func (m *Module) Name() string    { return "pulse" }
func (m *Module) Version() string { return "0.1.0" }

// Init reads the module configuration, builds its components and performs
// the first target load. A target file that cannot be read is logged and
// the module starts with no targets.
func (m *Module) Init(config *viper.Viper, logger *zap.Logger) error {
	m.logger = logger

	cfg := DefaultConfig()
	if config != nil {
		if err := config.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("pulse config: %w", err)
		}
	}
	m.cfg = cfg.withDefaults()

	if m.probes == nil {
		m.probes = probe.NewSuite(probe.DefaultConfig(), logger.Named("probe"))
	}

	m.registry = targets.NewRegistry()
	m.store = store.New()
	m.hub = event.NewHub(m, logger.Named("hub"), event.Options{
		Buffer:    m.cfg.SubscriberBuffer,
		Keepalive: m.cfg.KeepaliveInterval,
		Metrics:   m.metrics,
	})
	m.poller = NewPoller(m.registry, m.store, m.hub, m.probes, logger.Named("poller"), m.metrics, m.cfg)
	m.chime = NewChime(m.cfg.Alert, m.hub, logger.Named("chime"))
	m.watcher = targets.NewWatcher(m.cfg.Targets, m.registry, logger.Named("targets"), nil)

	_ = m.watcher.Reload()

	m.logger.Info("pulse module initialized",
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Int("poll_workers", m.cfg.PollWorkers),
		zap.String("targets_dir", m.cfg.Targets.Dir),
		zap.Bool("alert_enabled", m.cfg.Alert.Enabled),
	)
	return nil
}

// ValidateConfig rejects an alert time that can never match.
func (m *Module) ValidateConfig() error {
	a := m.cfg.Alert
	if a.Hour < 0 || a.Hour > 23 {
		return fmt.Errorf("alert.hour %d out of range 0-23", a.Hour)
	}
	if a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("alert.minute %d out of range 0-59", a.Minute)
	}
	if a.UTCOffsetHours < -12 || a.UTCOffsetHours > 14 {
		return fmt.Errorf("alert.utc_offset_hours %d out of range -12..14", a.UTCOffsetHours)
	}
	return nil
}

// Health reports degraded once the poller has fallen more than three
// intervals behind, or before its first cycle has completed.
func (m *Module) Health(context.Context) plugin.HealthStatus {
	snap := m.registry.Snapshot()
	details := map[string]any{
		"targets":     snap.Len(),
		"subscribers": m.hub.Len(),
	}
	last := m.poller.LastCycle()
	if last.IsZero() {
		return plugin.HealthStatus{Status: plugin.StatusDegraded, Details: details}
	}
	details["last_cycle"] = last.UTC().Format(time.RFC3339)
	if time.Since(last) > 3*m.cfg.PollInterval {
		return plugin.HealthStatus{Status: plugin.StatusDegraded, Details: details}
	}
	return plugin.HealthStatus{Status: plugin.StatusOK, Details: details}
}

// Start launches the poller, the chime and the target watcher.
func (m *Module) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.goRun(func() { m.poller.Run(ctx) })
	if m.cfg.Alert.Enabled {
		m.goRun(func() { m.chime.Run(ctx) })
	}
	m.goRun(func() {
		if err := m.watcher.Run(ctx); err != nil {
			m.logger.Warn("target watcher stopped, hot reload disabled", zap.Error(err))
		}
	})

	m.logger.Info("pulse module started")
	return nil
}

func (m *Module) goRun(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Stop cancels the background tasks, disconnects every subscriber and waits
// for the tasks to finish.
func (m *Module) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.hub != nil {
		m.hub.Close()
	}
	m.wg.Wait()
	m.logger.Info("pulse module stopped")
	return nil
}

// Routes implements plugin.Plugin.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/events", Handler: m.handleEvents},
		{Method: "GET", Path: "/ws", Handler: m.handleWS},
		{Method: "GET", Path: "/targets", Handler: m.handleTargets},
	}
}

// FullState implements event.StateSource.
func (m *Module) FullState() event.FullState {
	return event.FullState{
		Devices: m.store.All(models.GroupTerminal),
		Proxmox: m.store.All(models.GroupVirtualization),
	}
}
