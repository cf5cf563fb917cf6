// Package store holds the last known health record of every monitored target.
package store

import (
	"sync"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Store is an in-memory map of address to HealthRecord.
//
// It has a single writer (the poller) and any number of readers. Every read
// returns deep copies so callers never observe a record being rewritten.
type Store struct {
	mu      sync.RWMutex
	records map[string]models.HealthRecord
	order   []string // first-insertion order
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]models.HealthRecord),
	}
}

// Upsert replaces the record for rec.Address. A record older than the one
// already stored is rejected so LastCheckedAt never moves backwards.
// Reports whether the record was written.
func (s *Store) Upsert(rec models.HealthRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[rec.Address]
	if ok && rec.LastCheckedAt.Before(prev.LastCheckedAt) {
		return false
	}
	if !ok {
		s.order = append(s.order, rec.Address)
	}
	s.records[rec.Address] = rec.Clone()
	return true
}

// Get returns the record for address.
func (s *Store) Get(address string) (models.HealthRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[address]
	if !ok {
		return models.HealthRecord{}, false
	}
	return rec.Clone(), true
}

// All returns the records of the given group in insertion order.
func (s *Store) All(group models.Group) []models.HealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HealthRecord, 0, len(s.order))
	for _, addr := range s.order {
		rec := s.records[addr]
		if rec.Group == group {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Retain drops every record whose address is not in keep and returns the
// number of records removed.
func (s *Store) Retain(keep map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	order := s.order[:0]
	for _, addr := range s.order {
		if _, ok := keep[addr]; ok {
			order = append(order, addr)
			continue
		}
		delete(s.records, addr)
		removed++
	}
	// Clear the tail so dropped strings can be collected.
	for i := len(order); i < len(s.order); i++ {
		s.order[i] = ""
	}
	s.order = order
	return removed
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
