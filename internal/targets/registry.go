// Package targets holds the set of hosts the poller monitors and reloads it
// from the target files on change.
package targets

import (
	"sync/atomic"
	"time"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Snapshot is an immutable view of the registry. Callers must not modify
// the slices.
type Snapshot struct {
	Terminal       []models.Target `json:"devices"`
	Virtualization []models.Target `json:"proxmox"`
	LoadedAt       time.Time       `json:"loaded_at"`
}

// Addresses returns the set of every address in the snapshot.
func (s *Snapshot) Addresses() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Terminal)+len(s.Virtualization))
	for _, t := range s.Terminal {
		out[t.Address] = struct{}{}
	}
	for _, t := range s.Virtualization {
		out[t.Address] = struct{}{}
	}
	return out
}

// Len returns the total number of targets.
func (s *Snapshot) Len() int {
	return len(s.Terminal) + len(s.Virtualization)
}

// Registry publishes target snapshots. Replace swaps the whole snapshot
// atomically; readers never see a partially applied reload.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry returns a registry holding an empty snapshot.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{})
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace installs a new snapshot built from the given targets. Inputs are
// copied so later changes by the caller are not visible.
func (r *Registry) Replace(terminal, virtualization []models.Target) *Snapshot {
	snap := &Snapshot{
		Terminal:       append([]models.Target(nil), terminal...),
		Virtualization: append([]models.Target(nil), virtualization...),
		LoadedAt:       time.Now().UTC(),
	}
	r.current.Store(snap)
	return snap
}
