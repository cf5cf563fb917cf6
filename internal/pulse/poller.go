package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/fleetpulse/internal/event"
	"github.com/HerbHall/fleetpulse/internal/metrics"
	"github.com/HerbHall/fleetpulse/internal/probe"
	"github.com/HerbHall/fleetpulse/internal/store"
	"github.com/HerbHall/fleetpulse/internal/targets"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Publisher receives the events produced by the poller and the chime.
type Publisher interface {
	Publish(ev event.Event)
}

// Poller probes every registered target once per cycle and records the
// results.
type Poller struct {
	registry    *targets.Registry
	store       *store.Store
	publisher   Publisher
	probes      *probe.Suite
	logger      *zap.Logger
	metrics     metrics.Recorder
	interval    time.Duration
	workers     int
	changesOnly bool
	now         func() time.Time

	lastCycle atomic.Int64 // unix nanos of the last completed cycle
}

// NewPoller creates a poller. cfg must already carry defaults.
func NewPoller(
	registry *targets.Registry,
	st *store.Store,
	publisher Publisher,
	probes *probe.Suite,
	logger *zap.Logger,
	rec metrics.Recorder,
	cfg Config,
) *Poller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Poller{
		registry:    registry,
		store:       st,
		publisher:   publisher,
		probes:      probes,
		logger:      logger,
		metrics:     rec,
		interval:    cfg.PollInterval,
		workers:     cfg.PollWorkers,
		changesOnly: cfg.EmitChangesOnly,
		now:         time.Now,
	}
}

// Run polls until ctx is cancelled. The next cycle starts one interval after
// the previous one finished, so cycles never overlap.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Int("workers", p.workers),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-timer.C:
			_ = p.Cycle(ctx)
			timer.Reset(p.interval)
		}
	}
}

// Cycle runs one pass over the current targets. Terminal devices finish
// before virtualization hosts start. A failing or panicking cycle is logged
// and abandoned; the error is returned for tests.
func (p *Poller) Cycle(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
		switch {
		case err == nil:
			p.metrics.ObserveCycle(time.Since(start))
			p.lastCycle.Store(p.now().UnixNano())
		case ctx.Err() != nil:
			err = nil
		default:
			p.metrics.CycleFailed()
			p.logger.Error("poll cycle aborted", zap.Error(err))
		}
	}()

	snap := p.registry.Snapshot()
	if n := p.store.Retain(snap.Addresses()); n > 0 {
		p.logger.Info("evicted records for removed targets", zap.Int("count", n))
	}

	if err := p.pollGroup(ctx, models.GroupTerminal, snap.Terminal); err != nil {
		return err
	}
	return p.pollGroup(ctx, models.GroupVirtualization, snap.Virtualization)
}

// LastCycle returns when the last cycle completed, or the zero time.
func (p *Poller) LastCycle() time.Time {
	n := p.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Poller) pollGroup(ctx context.Context, group models.Group, list []models.Target) error {
	if len(list) == 0 {
		p.metrics.SetTargetsOnline(string(group), 0, 0)
		return nil
	}

	// A failing target must not cancel its neighbours' probes, so the
	// group shares ctx rather than deriving a cancelling one.
	var g errgroup.Group
	g.SetLimit(p.workers)

	var online atomic.Int64
	for _, t := range list {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("probe %s: panic: %v", t.Address, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}

			rec, err := p.probeTarget(ctx, t)
			if err != nil {
				return fmt.Errorf("probe %s: %w", t.Address, err)
			}
			if rec.Online {
				online.Add(1)
			}
			p.commit(rec)
			return nil
		})
	}

	err := g.Wait()
	p.metrics.SetTargetsOnline(string(group), int(online.Load()), len(list))
	return err
}

// probeTarget runs the port check and ping together, then asks for the
// session count when the host looks alive.
func (p *Poller) probeTarget(ctx context.Context, t models.Target) (models.HealthRecord, error) {
	var (
		portOpen bool
		ping     probe.PingResult
	)
	err := both(
		func() {
			defer p.observe("port", time.Now())
			portOpen = p.probes.Ports.CheckPort(ctx, t.Address, t.ServicePort())
		},
		func() {
			defer p.observe("ping", time.Now())
			ping = p.probes.Pinger.Ping(ctx, t.Address)
		},
	)
	if err != nil {
		return models.HealthRecord{}, err
	}
	// Probes collapse cancellation into a negative result; it is not a
	// finding about the host.
	if err := ctx.Err(); err != nil {
		return models.HealthRecord{}, err
	}

	sessions := 0
	switch t.Group {
	case models.GroupVirtualization:
		if portOpen {
			start := time.Now()
			sessions = p.probes.HTTP.FetchSessionCount(ctx, t.Address, "").EstablishedConnections
			p.observe("http", start)
		}
	default:
		if portOpen || ping.Up {
			start := time.Now()
			sessions = p.probes.SNMP.CountSessions(ctx, t.Address, p.probes.Community)
			p.observe("snmp", start)
		}
	}

	if err := ctx.Err(); err != nil {
		return models.HealthRecord{}, err
	}

	return models.HealthRecord{
		Address:       t.Address,
		Group:         t.Group,
		Online:        portOpen,
		LatencyMs:     ping.LatencyMs,
		SessionCount:  sessions,
		LastCheckedAt: p.now().UTC(),
	}, nil
}

// commit stores rec and publishes it. With changesOnly set, a record whose
// state matches the stored one is stored silently. LastCheckedAt is clamped
// to the stored value so a wall clock stepping back cannot freeze the record.
func (p *Poller) commit(rec models.HealthRecord) {
	prev, had := p.store.Get(rec.Address)
	if had && rec.LastCheckedAt.Before(prev.LastCheckedAt) {
		p.logger.Debug("clock moved backwards, clamping check time",
			zap.String("ip", rec.Address),
			zap.Time("checked_at", rec.LastCheckedAt),
			zap.Time("previous", prev.LastCheckedAt),
		)
		rec.LastCheckedAt = prev.LastCheckedAt
	}
	if !p.store.Upsert(rec) {
		p.logger.Debug("discarded stale record", zap.String("ip", rec.Address))
		return
	}
	if p.changesOnly && had && prev.SameState(rec) {
		return
	}
	p.publisher.Publish(event.NewTargetUpdate(rec))
}

func (p *Poller) observe(name string, start time.Time) {
	p.metrics.ObserveProbe(name, time.Since(start))
}

// both runs f and g concurrently and waits for both. Panics are returned as
// errors.
func both(f, g func()) error {
	errs := make(chan error, 2)
	run := func(fn func()) {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			errs <- err
		}()
		fn()
	}
	go run(f)
	go run(g)
	return errors.Join(<-errs, <-errs)
}
