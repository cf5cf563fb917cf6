package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

type staticSource struct {
	state FullState
}

func (s staticSource) FullState() FullState { return s.state }

// recordingSink collects everything written to it. When fail is set every
// Send returns that error.
type recordingSink struct {
	mu         sync.Mutex
	events     []Event
	keepalives int
	fail       error
	sent       chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{sent: make(chan struct{}, 256)}
}

func (s *recordingSink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, ev)
	s.sent <- struct{}{}
	return nil
}

func (s *recordingSink) Keepalive(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.keepalives++
	s.sent <- struct{}{}
	return nil
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind()
	}
	return out
}

func (s *recordingSink) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for write %d of %d", i+1, n)
		}
	}
}

func newTestHub(opts Options) *Hub {
	src := staticSource{state: NewFullState(
		[]models.HealthRecord{{Address: "10.0.0.5", Group: models.GroupTerminal}},
		nil,
	)}
	return NewHub(src, zap.NewNop(), opts)
}

func update(addr string) Event {
	return NewTargetUpdate(models.HealthRecord{Address: addr, Group: models.GroupTerminal})
}

func TestSubscribeReplaysStateFirst(t *testing.T) {
	h := newTestHub(Options{})
	h.Publish(update("10.0.0.1")) // nobody listening yet

	sub, err := h.Subscribe()
	require.NoError(t, err)
	h.Publish(update("10.0.0.5"))

	first := <-sub.Events()
	second := <-sub.Events()
	third := <-sub.Events()

	assert.Equal(t, KindConnected, first.Kind())
	require.Equal(t, KindFullState, second.Kind())
	assert.Len(t, second.(FullState).Devices, 1)
	assert.Equal(t, KindDeviceUpdate, third.Kind())
	assert.Equal(t, "10.0.0.5", third.(TargetUpdate).Record.Address)
}

func TestPublishOverflowDropsOnlySlowSubscriber(t *testing.T) {
	h := newTestHub(Options{Buffer: 4})

	slow, err := h.Subscribe()
	require.NoError(t, err)
	fast, err := h.Subscribe()
	require.NoError(t, err)

	// Connected + FullState already occupy two slots of each queue.
	for i := 0; i < 2; i++ {
		<-fast.Events()
	}
	for i := 0; i < 3; i++ {
		h.Publish(update("10.0.0.5"))
		if i < 2 {
			<-fast.Events()
		}
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber was not dropped")
	}
	select {
	case <-fast.Done():
		t.Fatal("fast subscriber was dropped")
	default:
	}
	assert.Equal(t, 1, h.Len())
}

func TestServeDeliversInOrder(t *testing.T) {
	h := newTestHub(Options{})
	sub, err := h.Subscribe()
	require.NoError(t, err)

	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(ctx, sub, sink) }()

	h.Publish(update("10.0.0.5"))
	h.Publish(ScheduledAlert{})
	sink.waitFor(t, 4)

	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []Kind{KindConnected, KindFullState, KindDeviceUpdate, KindTimeout}, sink.kinds())
	assert.Equal(t, 0, h.Len(), "Serve must detach on return")
}

func TestServeWriteFailureDropsOnlyThatSubscriber(t *testing.T) {
	h := newTestHub(Options{})

	bad, err := h.Subscribe()
	require.NoError(t, err)
	good, err := h.Subscribe()
	require.NoError(t, err)

	badSink := newRecordingSink()
	badSink.fail = errors.New("broken pipe")
	goodSink := newRecordingSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	badErr := make(chan error, 1)
	go func() { badErr <- h.Serve(ctx, bad, badSink) }()
	go func() { _ = h.Serve(ctx, good, goodSink) }()

	select {
	case err := <-badErr:
		assert.ErrorContains(t, err, "broken pipe")
	case <-time.After(2 * time.Second):
		t.Fatal("failing subscriber was not dropped")
	}

	h.Publish(update("10.0.0.5"))
	goodSink.waitFor(t, 3)
	assert.Equal(t, 1, h.Len())
}

func TestServeSendsKeepalive(t *testing.T) {
	h := newTestHub(Options{Keepalive: 20 * time.Millisecond})
	sub, err := h.Subscribe()
	require.NoError(t, err)

	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, sub, sink) }()

	// Two replayed events plus at least one keepalive.
	sink.waitFor(t, 3)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.GreaterOrEqual(t, sink.keepalives, 1)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := newTestHub(Options{})
	sub, err := h.Subscribe()
	require.NoError(t, err)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	assert.Equal(t, 0, h.Len())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Unsubscribe")
	}
}

func TestCloseDetachesAll(t *testing.T) {
	h := newTestHub(Options{})
	sub, err := h.Subscribe()
	require.NoError(t, err)

	sink := newRecordingSink()
	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(context.Background(), sub, sink) }()
	sink.waitFor(t, 2)

	h.Close()
	h.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDropped)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
	h.Publish(update("10.0.0.5")) // must not panic
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	h := newTestHub(Options{Buffer: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := h.Subscribe()
			if err != nil {
				return
			}
			go func() { _ = h.Serve(ctx, sub, newRecordingSink()) }()
		}()
	}
	for i := 0; i < 100; i++ {
		h.Publish(update("10.0.0.5"))
	}
	wg.Wait()
	h.Close()
	assert.Equal(t, 0, h.Len())
}
