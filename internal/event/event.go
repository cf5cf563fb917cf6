// Package event defines the events pushed to subscribers and the hub that
// fans them out.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Kind is the wire "type" of an event.
type Kind string

const (
	KindConnected     Kind = "connected"
	KindFullState     Kind = "full_state"
	KindDeviceUpdate  Kind = "device_update"
	KindProxmoxUpdate Kind = "proxmox_update"
	KindTimeout       Kind = "timeout"
)

// Event is one of Connected, FullState, TargetUpdate or ScheduledAlert.
type Event interface {
	Kind() Kind
	data() any
}

// Connected greets a new subscriber.
type Connected struct{}

func (Connected) Kind() Kind { return KindConnected }
func (Connected) data() any  { return true }

// FullState is the snapshot of every known record, sent once per subscriber
// before any update.
type FullState struct {
	Devices []models.HealthRecord `json:"devices"`
	Proxmox []models.HealthRecord `json:"proxmox"`
}

func (FullState) Kind() Kind { return KindFullState }

func (f FullState) data() any {
	if f.Devices == nil {
		f.Devices = []models.HealthRecord{}
	}
	if f.Proxmox == nil {
		f.Proxmox = []models.HealthRecord{}
	}
	return f
}

// NewFullState deep-copies the given records into a FullState.
func NewFullState(devices, proxmox []models.HealthRecord) FullState {
	return FullState{Devices: cloneAll(devices), Proxmox: cloneAll(proxmox)}
}

func cloneAll(in []models.HealthRecord) []models.HealthRecord {
	out := make([]models.HealthRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// TargetUpdate carries the freshly computed record of one target.
type TargetUpdate struct {
	Record models.HealthRecord
}

// NewTargetUpdate deep-copies rec into an update.
func NewTargetUpdate(rec models.HealthRecord) TargetUpdate {
	return TargetUpdate{Record: rec.Clone()}
}

func (u TargetUpdate) Kind() Kind {
	if u.Record.Group == models.GroupVirtualization {
		return KindProxmoxUpdate
	}
	return KindDeviceUpdate
}

func (u TargetUpdate) data() any { return u.Record }

// ScheduledAlert tells clients to play the daily chime.
type ScheduledAlert struct{}

func (ScheduledAlert) Kind() Kind { return KindTimeout }
func (ScheduledAlert) data() any  { return map[string]bool{"shouldPlay": true} }

type envelope struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// Encode renders ev as {"type": ..., "data": ...}.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	b, err := json.Marshal(envelope{Type: ev.Kind(), Data: ev.data()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	return b, nil
}
