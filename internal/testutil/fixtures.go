package testutil

import (
	"time"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

// NewTarget returns an ssh terminal device at 10.0.0.5. Override fields
// with options.
func NewTarget(opts ...func(*models.Target)) models.Target {
	t := models.Target{
		Address:  "10.0.0.5",
		Name:     "test-device",
		Group:    models.GroupTerminal,
		Protocol: models.ProtocolSSH,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// NewVirtualizationTarget returns a virtualization host at 10.0.0.9.
func NewVirtualizationTarget(opts ...func(*models.Target)) models.Target {
	t := models.Target{
		Address: "10.0.0.9",
		Name:    "test-host",
		Group:   models.GroupVirtualization,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// WithAddress sets the target address.
func WithAddress(addr string) func(*models.Target) {
	return func(t *models.Target) { t.Address = addr }
}

// WithProtocol sets the terminal protocol.
func WithProtocol(p models.Protocol) func(*models.Target) {
	return func(t *models.Target) { t.Protocol = p }
}

// NewRecord returns an online terminal record checked at the Clock default
// time.
func NewRecord(opts ...func(*models.HealthRecord)) models.HealthRecord {
	r := models.HealthRecord{
		Address:       "10.0.0.5",
		Group:         models.GroupTerminal,
		Online:        true,
		LatencyMs:     models.IntPtr(1),
		LastCheckedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithRecordAddress sets the record address.
func WithRecordAddress(addr string) func(*models.HealthRecord) {
	return func(r *models.HealthRecord) { r.Address = addr }
}

// WithRecordGroup sets the record group.
func WithRecordGroup(g models.Group) func(*models.HealthRecord) {
	return func(r *models.HealthRecord) { r.Group = g }
}

// WithCheckedAt sets the record timestamp.
func WithCheckedAt(t time.Time) func(*models.HealthRecord) {
	return func(r *models.HealthRecord) { r.LastCheckedAt = t }
}

// WithSessions sets the session count.
func WithSessions(n int) func(*models.HealthRecord) {
	return func(r *models.HealthRecord) { r.SessionCount = n }
}
