package testutil

import (
	"testing"

	"github.com/HerbHall/fleetpulse/internal/store"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

// NewStore creates a state store seeded with records.
func NewStore(t *testing.T, records ...models.HealthRecord) *store.Store {
	t.Helper()
	st := store.New()
	for _, r := range records {
		if !st.Upsert(r) {
			t.Fatalf("testutil.NewStore: record for %s rejected", r.Address)
		}
	}
	return st
}
