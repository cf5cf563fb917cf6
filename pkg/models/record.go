package models

import "time"

// HealthRecord is the last known state of one target.
//
// Online reflects the service port check only; LatencyMs comes from the
// ICMP probe and is nil when the host did not answer.
type HealthRecord struct {
	Address       string    `json:"ip"`
	Group         Group     `json:"-"`
	Online        bool      `json:"online"`
	LatencyMs     *int      `json:"latency"`
	SessionCount  int       `json:"connCount"`
	LastCheckedAt time.Time `json:"checkedAt"`
}

// Clone returns a deep copy of the record.
func (r HealthRecord) Clone() HealthRecord {
	if r.LatencyMs != nil {
		v := *r.LatencyMs
		r.LatencyMs = &v
	}
	return r
}

// SameState reports whether two records describe the same observed state,
// ignoring when they were taken.
func (r HealthRecord) SameState(o HealthRecord) bool {
	if r.Address != o.Address || r.Group != o.Group || r.Online != o.Online || r.SessionCount != o.SessionCount {
		return false
	}
	if (r.LatencyMs == nil) != (o.LatencyMs == nil) {
		return false
	}
	return r.LatencyMs == nil || *r.LatencyMs == *o.LatencyMs
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
