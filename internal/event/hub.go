package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/metrics"
)

// Hub defaults.
const (
	DefaultBuffer    = 64
	DefaultKeepalive = 15 * time.Second
)

// Drop reasons reported to metrics.
const (
	reasonOverflow = "overflow"
	reasonWrite    = "write_error"
	reasonShutdown = "shutdown"
)

var (
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("event hub closed")
	// ErrDropped is returned by Serve when the hub removed the subscriber.
	ErrDropped = errors.New("subscriber dropped")
)

// StateSource supplies the snapshot replayed to new subscribers.
type StateSource interface {
	FullState() FullState
}

// Sink writes events to one subscriber's transport.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Keepalive(ctx context.Context) error
}

// Options tunes a Hub. Zero values take the defaults.
type Options struct {
	Buffer    int
	Keepalive time.Duration
	Metrics   metrics.Recorder
}

// Subscriber is one attached stream. Its queue is bounded; Done is closed
// once the hub has let go of it.
type Subscriber struct {
	ID   uuid.UUID
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Events returns the subscriber's queue.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Done is closed when the subscriber is removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans events out to subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscriber
	closed bool

	source    StateSource
	logger    *zap.Logger
	buffer    int
	keepalive time.Duration
	metrics   metrics.Recorder
}

// NewHub creates a hub replaying source's state to every new subscriber.
func NewHub(source StateSource, logger *zap.Logger, opts Options) *Hub {
	if opts.Buffer < 2 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Hub{
		subs:      make(map[uuid.UUID]*Subscriber),
		source:    source,
		logger:    logger,
		buffer:    opts.Buffer,
		keepalive: opts.Keepalive,
		metrics:   opts.Metrics,
	}
}

// Subscribe attaches a new subscriber. Its queue already holds Connected and
// FullState when it becomes visible to Publish.
func (h *Hub) Subscribe() (*Subscriber, error) {
	sub := &Subscriber{
		ID:   uuid.New(),
		ch:   make(chan Event, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub.ch <- Connected{}
	sub.ch <- h.source.FullState()
	h.subs[sub.ID] = sub
	h.metrics.SetSubscribers(len(h.subs))

	h.logger.Info("subscriber connected",
		zap.String("subscriber_id", sub.ID.String()),
		zap.Int("subscribers", len(h.subs)),
	)
	return sub, nil
}

// Publish enqueues ev for every subscriber without blocking. A subscriber
// whose queue is full is dropped.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.metrics.EventPublished(string(ev.Kind()))
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.removeLocked(sub, reasonOverflow)
		}
	}
}

// Unsubscribe detaches sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, "")
}

func (h *Hub) removeLocked(sub *Subscriber, reason string) {
	if _, ok := h.subs[sub.ID]; !ok {
		sub.close()
		return
	}
	delete(h.subs, sub.ID)
	sub.close()
	h.metrics.SetSubscribers(len(h.subs))

	fields := []zap.Field{
		zap.String("subscriber_id", sub.ID.String()),
		zap.Int("subscribers", len(h.subs)),
	}
	if reason == "" {
		h.logger.Info("subscriber disconnected", fields...)
		return
	}
	h.metrics.SubscriberDropped(reason)
	h.logger.Warn("subscriber dropped", append(fields, zap.String("reason", reason))...)
}

// Serve writes sub's events to sink until ctx ends, the sink fails or the hub
// drops the subscriber. A keepalive is sent on every idle interval. The
// subscriber is always detached on return.
func (h *Hub) Serve(ctx context.Context, sub *Subscriber, sink Sink) error {
	defer h.Unsubscribe(sub)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.done:
			return ErrDropped
		case ev := <-sub.ch:
			if err := sink.Send(ctx, ev); err != nil {
				h.drop(sub, reasonWrite)
				return fmt.Errorf("send %s: %w", ev.Kind(), err)
			}
		case <-ticker.C:
			if err := sink.Keepalive(ctx); err != nil {
				h.drop(sub, reasonWrite)
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

func (h *Hub) drop(sub *Subscriber, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, reason)
}

// Close detaches every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub, reasonShutdown)
	}
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
