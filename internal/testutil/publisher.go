package testutil

import (
	"sync"

	"github.com/HerbHall/fleetpulse/internal/event"
)

// MockPublisher is a thread-safe publisher that records every event for
// later inspection.
type MockPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

// NewMockPublisher returns a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records ev.
func (p *MockPublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// Events returns a copy of all recorded events.
func (p *MockPublisher) Events() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Updates returns the records carried by recorded TargetUpdate events.
func (p *MockPublisher) Updates() []event.TargetUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.TargetUpdate
	for _, ev := range p.events {
		if u, ok := ev.(event.TargetUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

// Reset clears all recorded events.
func (p *MockPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
