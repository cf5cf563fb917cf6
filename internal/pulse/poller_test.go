package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HerbHall/fleetpulse/internal/event"
	"github.com/HerbHall/fleetpulse/internal/probe"
	"github.com/HerbHall/fleetpulse/internal/store"
	"github.com/HerbHall/fleetpulse/internal/targets"
	"github.com/HerbHall/fleetpulse/internal/testutil"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

// fakeProbes answers every probe from canned per-address results and
// records the calls it receives.
type fakeProbes struct {
	mu        sync.Mutex
	ports     map[string]bool
	pings     map[string]probe.PingResult
	snmp      map[string]int
	http      map[string]int
	portCalls map[string][]int
	snmpCalls map[string]int
	httpCalls map[string]int
	panicOn   string
	// portDelay makes CheckPort wait before answering; a cancelled ctx
	// turns the answer into false, as the real checker does.
	portDelay map[string]time.Duration
}

func newFakeProbes() *fakeProbes {
	return &fakeProbes{
		ports:     map[string]bool{},
		pings:     map[string]probe.PingResult{},
		snmp:      map[string]int{},
		http:      map[string]int{},
		portCalls: map[string][]int{},
		snmpCalls: map[string]int{},
		httpCalls: map[string]int{},
		portDelay: map[string]time.Duration{},
	}
}

func (f *fakeProbes) suite() *probe.Suite {
	return &probe.Suite{Pinger: f, Ports: f, SNMP: f, HTTP: f, Community: "netlink"}
}

func (f *fakeProbes) CheckPort(ctx context.Context, address string, port int) bool {
	f.mu.Lock()
	if address == f.panicOn {
		f.mu.Unlock()
		panic("probe exploded")
	}
	f.portCalls[address] = append(f.portCalls[address], port)
	open, delay := f.ports[address], f.portDelay[address]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return open
}

func (f *fakeProbes) Ping(_ context.Context, address string) probe.PingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings[address]
}

func (f *fakeProbes) CountSessions(_ context.Context, address, community string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if community != "netlink" {
		panic("unexpected community " + community)
	}
	f.snmpCalls[address]++
	return f.snmp[address]
}

func (f *fakeProbes) FetchSessionCount(_ context.Context, address, _ string) probe.SessionCount {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.httpCalls[address]++
	return probe.SessionCount{EstablishedConnections: f.http[address], Port: 8006}
}

func (f *fakeProbes) set(fn func(f *fakeProbes)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type pollerHarness struct {
	poller   *Poller
	registry *targets.Registry
	store    *store.Store
	pub      *testutil.MockPublisher
	clock    *testutil.Clock
	probes   *fakeProbes
	logs     *observer.ObservedLogs
}

func newPollerHarness(t *testing.T, cfg Config, terminal, virtualization []models.Target) *pollerHarness {
	t.Helper()
	h := &pollerHarness{
		registry: targets.NewRegistry(),
		store:    store.New(),
		pub:      testutil.NewMockPublisher(),
		clock:    testutil.NewClock(),
		probes:   newFakeProbes(),
	}
	h.registry.Replace(terminal, virtualization)
	logger, logs := testutil.ObservedLogger(zapcore.WarnLevel)
	h.logs = logs
	h.poller = NewPoller(h.registry, h.store, h.pub, h.probes.suite(), logger, nil, cfg.withDefaults())
	h.poller.now = h.clock.Now
	return h
}

func (h *pollerHarness) cycle(t *testing.T) {
	t.Helper()
	if err := h.poller.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	h.clock.Advance(5 * time.Second)
}

func TestCycleTerminalPortClosedPingUp(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	h.probes.pings["10.0.0.5"] = probe.PingResult{Up: true, LatencyMs: models.IntPtr(42)}

	h.cycle(t)

	rec, ok := h.store.Get("10.0.0.5")
	if !ok {
		t.Fatal("no record stored for 10.0.0.5")
	}
	if rec.Online {
		t.Error("Online = true, want false (port 22 closed)")
	}
	if rec.LatencyMs == nil || *rec.LatencyMs != 42 {
		t.Errorf("LatencyMs = %v, want 42", rec.LatencyMs)
	}
	if rec.SessionCount != 0 {
		t.Errorf("SessionCount = %d, want 0", rec.SessionCount)
	}
	if got := h.probes.portCalls["10.0.0.5"]; len(got) != 1 || got[0] != 22 {
		t.Errorf("port calls = %v, want [22]", got)
	}
	// Ping alone counts as alive, so the session walk still runs.
	if h.probes.snmpCalls["10.0.0.5"] != 1 {
		t.Errorf("snmp calls = %d, want 1", h.probes.snmpCalls["10.0.0.5"])
	}

	updates := h.pub.Updates()
	if len(updates) != 1 || updates[0].Kind() != event.KindDeviceUpdate {
		t.Fatalf("updates = %+v, want one device_update", updates)
	}
}

func TestCycleTerminalSessions(t *testing.T) {
	telnet := testutil.NewTarget(testutil.WithAddress("10.0.0.6"), testutil.WithProtocol(models.ProtocolTelnet))
	h := newPollerHarness(t, DefaultConfig(), []models.Target{telnet}, nil)
	h.probes.ports["10.0.0.6"] = true
	h.probes.snmp["10.0.0.6"] = 2

	h.cycle(t)

	rec, _ := h.store.Get("10.0.0.6")
	if !rec.Online || rec.SessionCount != 2 || rec.LatencyMs != nil {
		t.Errorf("record = %+v, want online with 2 sessions and no latency", rec)
	}
	if got := h.probes.portCalls["10.0.0.6"]; len(got) != 1 || got[0] != 23 {
		t.Errorf("port calls = %v, want [23]", got)
	}
}

func TestCycleVirtualizationHost(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), nil, []models.Target{testutil.NewVirtualizationTarget()})
	h.probes.ports["10.0.0.9"] = true
	h.probes.pings["10.0.0.9"] = probe.PingResult{Up: true, LatencyMs: models.IntPtr(3)}
	h.probes.http["10.0.0.9"] = 3

	h.cycle(t)

	rec, _ := h.store.Get("10.0.0.9")
	if !rec.Online || rec.SessionCount != 3 {
		t.Errorf("record = %+v, want online with connCount 3", rec)
	}
	if got := h.probes.portCalls["10.0.0.9"]; len(got) != 1 || got[0] != 8006 {
		t.Errorf("port calls = %v, want [8006]", got)
	}
	if h.probes.snmpCalls["10.0.0.9"] != 0 {
		t.Error("virtualization host must not be walked over SNMP")
	}

	updates := h.pub.Updates()
	if len(updates) != 1 || updates[0].Kind() != event.KindProxmoxUpdate {
		t.Fatalf("updates = %+v, want one proxmox_update", updates)
	}
}

func TestCycleUnreachableSkipsSessionCounters(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(),
		[]models.Target{testutil.NewTarget()},
		[]models.Target{testutil.NewVirtualizationTarget()},
	)
	// The virtualization host answers ping but not on 8006.
	h.probes.pings["10.0.0.9"] = probe.PingResult{Up: true, LatencyMs: models.IntPtr(1)}

	h.cycle(t)
	h.cycle(t)

	if n := h.probes.snmpCalls["10.0.0.5"]; n != 0 {
		t.Errorf("snmp calls = %d, want 0", n)
	}
	if n := h.probes.httpCalls["10.0.0.9"]; n != 0 {
		t.Errorf("http calls = %d, want 0", n)
	}
	for _, addr := range []string{"10.0.0.5", "10.0.0.9"} {
		rec, _ := h.store.Get(addr)
		if rec.Online || rec.SessionCount != 0 {
			t.Errorf("%s record = %+v, want offline with 0 sessions", addr, rec)
		}
	}
}

func TestCycleIsIdempotent(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	h.probes.ports["10.0.0.5"] = true
	h.probes.pings["10.0.0.5"] = probe.PingResult{Up: true, LatencyMs: models.IntPtr(7)}
	h.probes.snmp["10.0.0.5"] = 1

	h.cycle(t)
	first, _ := h.store.Get("10.0.0.5")
	h.cycle(t)
	second, _ := h.store.Get("10.0.0.5")

	if !first.SameState(second) {
		t.Errorf("records differ: %+v vs %+v", first, second)
	}
	if !second.LastCheckedAt.After(first.LastCheckedAt) {
		t.Errorf("LastCheckedAt did not advance: %v then %v", first.LastCheckedAt, second.LastCheckedAt)
	}
	// Emission is unconditional by default.
	if n := len(h.pub.Updates()); n != 2 {
		t.Errorf("updates = %d, want 2", n)
	}
}

func TestCycleEmitChangesOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmitChangesOnly = true
	h := newPollerHarness(t, cfg, []models.Target{testutil.NewTarget()}, nil)
	h.probes.ports["10.0.0.5"] = true

	h.cycle(t)
	h.cycle(t)
	if n := len(h.pub.Updates()); n != 1 {
		t.Fatalf("updates after unchanged cycle = %d, want 1", n)
	}

	h.probes.set(func(f *fakeProbes) { f.ports["10.0.0.5"] = false })
	h.cycle(t)

	updates := h.pub.Updates()
	if len(updates) != 2 {
		t.Fatalf("updates after change = %d, want 2", len(updates))
	}
	if updates[1].Record.Online {
		t.Error("last update should report offline")
	}
	// The store keeps the latest timestamp even when nothing was emitted.
	rec, _ := h.store.Get("10.0.0.5")
	if !rec.LastCheckedAt.Equal(updates[1].Record.LastCheckedAt) {
		t.Errorf("stored LastCheckedAt = %v, want %v", rec.LastCheckedAt, updates[1].Record.LastCheckedAt)
	}
}

func TestCycleEvictsRemovedTargets(t *testing.T) {
	a := testutil.NewTarget()
	b := testutil.NewTarget(testutil.WithAddress("10.0.0.6"))
	h := newPollerHarness(t, DefaultConfig(), []models.Target{a, b}, nil)

	h.cycle(t)
	if h.store.Len() != 2 {
		t.Fatalf("store Len = %d, want 2", h.store.Len())
	}

	h.registry.Replace([]models.Target{b}, nil)
	h.cycle(t)

	if _, ok := h.store.Get("10.0.0.5"); ok {
		t.Error("record for removed target 10.0.0.5 still present")
	}
	if n := len(h.probes.portCalls["10.0.0.5"]); n != 1 {
		t.Errorf("10.0.0.5 probed %d times, want 1", n)
	}
	if n := len(h.probes.portCalls["10.0.0.6"]); n != 2 {
		t.Errorf("10.0.0.6 probed %d times, want 2", n)
	}
}

func TestCycleTerminalBeforeVirtualization(t *testing.T) {
	var terminal []models.Target
	for _, addr := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"} {
		terminal = append(terminal, testutil.NewTarget(testutil.WithAddress(addr)))
	}
	virtualization := []models.Target{
		testutil.NewVirtualizationTarget(),
		testutil.NewVirtualizationTarget(testutil.WithAddress("10.0.0.10")),
	}
	h := newPollerHarness(t, DefaultConfig(), terminal, virtualization)

	h.cycle(t)

	updates := h.pub.Updates()
	if len(updates) != len(terminal)+len(virtualization) {
		t.Fatalf("updates = %d, want %d", len(updates), len(terminal)+len(virtualization))
	}
	for i, u := range updates {
		want := event.KindDeviceUpdate
		if i >= len(terminal) {
			want = event.KindProxmoxUpdate
		}
		if u.Kind() != want {
			t.Errorf("updates[%d] = %s, want %s", i, u.Kind(), want)
		}
	}
}

func TestCycleRecoversPanic(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	h.probes.panicOn = "10.0.0.5"

	err := h.poller.Cycle(context.Background())
	if err == nil {
		t.Fatal("Cycle() error = nil, want recovered panic")
	}
	if h.store.Len() != 0 {
		t.Error("aborted cycle must not store a record")
	}
	if n := h.logs.FilterMessage("poll cycle aborted").Len(); n != 1 {
		t.Errorf("logged %d aborted cycles, want 1", n)
	}

	// The next cycle runs normally.
	h.probes.set(func(f *fakeProbes) { f.panicOn = "" })
	h.cycle(t)
	if h.store.Len() != 1 {
		t.Errorf("store Len = %d, want 1", h.store.Len())
	}
}

func TestCyclePanicLeavesOtherTargetsIntact(t *testing.T) {
	broken := testutil.NewTarget(testutil.WithAddress("10.0.0.1"))
	healthy := testutil.NewTarget(testutil.WithAddress("10.0.0.2"))
	h := newPollerHarness(t, DefaultConfig(), []models.Target{broken, healthy}, nil)
	h.probes.panicOn = "10.0.0.1"
	h.probes.ports["10.0.0.2"] = true
	h.probes.portDelay["10.0.0.2"] = 300 * time.Millisecond

	if err := h.poller.Cycle(context.Background()); err == nil {
		t.Fatal("Cycle() error = nil, want recovered panic")
	}

	rec, ok := h.store.Get("10.0.0.2")
	if !ok || !rec.Online {
		t.Errorf("healthy target record = %+v (stored %v), want online", rec, ok)
	}
	for _, u := range h.pub.Updates() {
		if u.Record.Address == "10.0.0.2" && !u.Record.Online {
			t.Errorf("published offline update for healthy target: %+v", u.Record)
		}
	}
	if _, ok := h.store.Get("10.0.0.1"); ok {
		t.Error("panicking target must not store a record")
	}
}

func TestCycleCancelledMidProbeCommitsNothing(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	h.probes.ports["10.0.0.5"] = true
	h.probes.portDelay["10.0.0.5"] = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if err := h.poller.Cycle(ctx); err != nil {
		t.Errorf("Cycle() = %v, want nil on shutdown", err)
	}
	if h.store.Len() != 0 {
		t.Error("cancelled probe must not store a record")
	}
	if n := len(h.pub.Updates()); n != 0 {
		t.Errorf("published %d updates during shutdown, want 0", n)
	}
}

func TestCycleClockStepBackKeepsPublishing(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	h.probes.ports["10.0.0.5"] = true
	h.cycle(t)
	first, _ := h.store.Get("10.0.0.5")

	h.clock.Set(first.LastCheckedAt.Add(-10 * time.Minute))
	h.probes.set(func(f *fakeProbes) { f.ports["10.0.0.5"] = false })
	h.pub.Reset()
	for range 3 {
		h.cycle(t)
	}

	rec, _ := h.store.Get("10.0.0.5")
	if rec.Online {
		t.Error("store kept the pre-step online state")
	}
	if rec.LastCheckedAt.Before(first.LastCheckedAt) {
		t.Errorf("LastCheckedAt moved backwards: %v < %v", rec.LastCheckedAt, first.LastCheckedAt)
	}
	if n := len(h.pub.Updates()); n != 3 {
		t.Errorf("published %d updates after the clock step, want 3", n)
	}
}

func TestCycleCancelledIsNotAnError(t *testing.T) {
	h := newPollerHarness(t, DefaultConfig(), []models.Target{testutil.NewTarget()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.poller.Cycle(ctx); err != nil {
		t.Errorf("Cycle() on cancelled context = %v, want nil", err)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	h := newPollerHarness(t, cfg, []models.Target{testutil.NewTarget()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.poller.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(h.pub.Updates()) < 3 {
		select {
		case <-deadline:
			t.Fatal("poller did not run repeated cycles")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
