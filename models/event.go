package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/yeremiapane/restaurant-sync/status"
)

// Push topics and control frames carried by the event channel.
const (
	EventOrderStatusUpdated = "order-status-updated"
	EventKOTStatusUpdated   = "kot-status-updated"
	EventTableStatusUpdated = "table-status-updated"
	EventTableCreated       = "table-created"
	EventDisbursement       = "disbursement-created"

	EventJoin    = "join"
	EventLeave   = "leave"
	EventPing    = "ping"
	EventPong    = "pong"
	EventPublish = "publish"
)

// Rooms clients join at connect time.
const (
	RoomWaiterDashboard = "waiter-dashboard"
	RoomKitchenUpdates  = "kitchen-updates"
	RoomPantryUpdates   = "pantry-updates"
)

const (
	AudienceKitchen   = "kitchen"
	AudienceWaitstaff = "waitstaff"
	AudienceStaff     = "staff"
)

type EventSource string

const (
	SourcePush EventSource = "push"
	SourcePoll EventSource = "poll"
	// SourceLocal marks the acknowledgment of a mutation this client issued.
	SourceLocal EventSource = "local"
)

// EntityKey identifies one entity across kinds.
type EntityKey struct {
	Kind status.EntityKind
	ID   uint
}

func (k EntityKey) String() string {
	return string(k.Kind) + "#" + strconv.FormatUint(uint64(k.ID), 10)
}

// StatusEvent is the synchronization delta. It is never persisted. Seq is the
// entity's server-side version and orders updates for that entity only.
type StatusEvent struct {
	Kind     status.EntityKind `json:"kind"`
	EntityID uint              `json:"entity_id"`
	Status   string            `json:"status"`
	Snapshot json.RawMessage   `json:"snapshot,omitempty"`
	OriginAt time.Time         `json:"origin_at"`
	Seq      uint64            `json:"seq"`
	Source   EventSource       `json:"-"`
}

func (e StatusEvent) Key() EntityKey {
	return EntityKey{Kind: e.Kind, ID: e.EntityID}
}

func (e StatusEvent) Topic() string {
	switch e.Kind {
	case status.KindOrder:
		return EventOrderStatusUpdated
	case status.KindKOT:
		return EventKOTStatusUpdated
	default:
		return EventTableStatusUpdated
	}
}

func snapshot(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func OrderEvent(o Order) StatusEvent {
	return StatusEvent{
		Kind:     status.KindOrder,
		EntityID: o.ID,
		Status:   string(o.Status),
		Snapshot: snapshot(o),
		OriginAt: o.UpdatedAt,
		Seq:      o.Version,
	}
}

func KOTEvent(k KOT) StatusEvent {
	return StatusEvent{
		Kind:     status.KindKOT,
		EntityID: k.ID,
		Status:   string(k.Status),
		Snapshot: snapshot(k),
		OriginAt: k.UpdatedAt,
		Seq:      k.Version,
	}
}

func TableEvent(t Table) StatusEvent {
	return StatusEvent{
		Kind:     status.KindTable,
		EntityID: t.ID,
		Status:   string(t.Status),
		Snapshot: snapshot(t),
		OriginAt: t.UpdatedAt,
		Seq:      t.Version,
	}
}

// DecodeSnapshot unmarshals the carried entity into dst.
func (e StatusEvent) DecodeSnapshot(dst interface{}) error {
	if len(e.Snapshot) == 0 {
		return fmt.Errorf("%s carries no snapshot", e.Key())
	}
	return json.Unmarshal(e.Snapshot, dst)
}
