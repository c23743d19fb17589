package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type AlertKind string

const (
	AlertNewOrder      AlertKind = "new-order"
	AlertNewTicket     AlertKind = "new-ticket"
	AlertOrderReady    AlertKind = "order-ready"
	AlertKOTReady      AlertKind = "kot-ready"
	AlertKOTServed     AlertKind = "kot-served"
	AlertStaffAssigned AlertKind = "staff-assigned"
)

const (
	MinAlertTTL     = 5 * time.Second
	MaxAlertTTL     = 8 * time.Second
	DefaultAlertTTL = 6 * time.Second

	sweepEvery = 500 * time.Millisecond
)

type Alert struct {
	ID        string           `json:"id"`
	Kind      AlertKind        `json:"kind"`
	Audience  string           `json:"audience"`
	Entity    models.EntityKey `json:"-"`
	Seq       uint64           `json:"seq"`
	Message   string           `json:"message"`
	RaisedAt  time.Time        `json:"raised_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Notifier turns view deltas into short-lived alerts.
type Notifier struct {
	ttl   time.Duration
	clock utils.Clock
	log   logrus.FieldLogger

	mu          sync.Mutex
	active      []Alert
	lastSeq     map[models.EntityKey]uint64
	lastStatus  map[models.EntityKey]string
	subscribers []func(Alert)
}

// ClampTTL keeps an alert lifetime inside the 5-8s window, 0 meaning default.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return DefaultAlertTTL
	case ttl < MinAlertTTL:
		return MinAlertTTL
	case ttl > MaxAlertTTL:
		return MaxAlertTTL
	}
	return ttl
}

func NewNotifier(ttl time.Duration, clock utils.Clock, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		ttl:        ClampTTL(ttl),
		clock:      utils.ClockOrReal(clock),
		log:        utils.Logger(log),
		lastSeq:    map[models.EntityKey]uint64{},
		lastStatus: map[models.EntityKey]string{},
	}
}

func (n *Notifier) TTL() time.Duration {
	return n.ttl
}

// OnAlert registers a subscriber for newly raised alerts.
func (n *Notifier) OnAlert(fn func(Alert)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, fn)
}

// Handle raises the alerts a delta calls for. A delta already alerted for,
// by sequence or by status when the store sends no sequence, raises nothing.
func (n *Notifier) Handle(d ViewDelta) []Alert {
	if d.Baseline {
		return nil
	}
	drafts := alertsFor(d)
	if len(drafts) == 0 {
		return nil
	}

	n.mu.Lock()
	if d.Seq > 0 {
		if d.Seq <= n.lastSeq[d.Key] {
			n.mu.Unlock()
			return nil
		}
		n.lastSeq[d.Key] = d.Seq
	} else {
		if n.lastStatus[d.Key] == d.To {
			n.mu.Unlock()
			return nil
		}
		n.lastStatus[d.Key] = d.To
	}

	now := n.clock.Now()
	raised := make([]Alert, 0, len(drafts))
	for _, a := range drafts {
		a.ID = uuid.NewString()
		a.Entity = d.Key
		a.Seq = d.Seq
		a.RaisedAt = now
		a.ExpiresAt = now.Add(n.ttl)
		n.active = append(n.active, a)
		raised = append(raised, a)
	}
	subscribers := append(([]func(Alert))(nil), n.subscribers...)
	n.mu.Unlock()

	for _, a := range raised {
		n.log.WithFields(logrus.Fields{"alert": a.Kind, "entity": a.Entity.String(), "audience": a.Audience}).Info(a.Message)
		for _, fn := range subscribers {
			fn(a)
		}
	}
	return raised
}

func alertsFor(d ViewDelta) []Alert {
	var out []Alert
	switch d.Key.Kind {
	case status.KindOrder:
		if d.Order == nil {
			return nil
		}
		o := d.Order
		switch {
		case d.Created && o.Active():
			out = append(out, Alert{
				Kind:     AlertNewOrder,
				Audience: models.AudienceWaitstaff,
				Message:  fmt.Sprintf("New order #%d for table %d, %s", o.ID, o.TableID, utils.FormatCurrencyIDR(o.Amount)),
			})
		case d.StatusChanged() && d.To == string(status.OrderReady):
			out = append(out, Alert{
				Kind:     AlertOrderReady,
				Audience: models.AudienceWaitstaff,
				Message:  fmt.Sprintf("Order #%d for table %d is ready", o.ID, o.TableID),
			})
		}

	case status.KindKOT:
		if d.KOT == nil {
			return nil
		}
		k := d.KOT
		table := k.TableNumber
		if table == "" {
			table = fmt.Sprintf("order #%d", k.OrderID)
		}
		switch {
		case d.Created && k.Active():
			out = append(out, Alert{
				Kind:     AlertNewTicket,
				Audience: models.AudienceKitchen,
				Message:  fmt.Sprintf("New ticket #%d for %s, %d item(s), %s priority", k.ID, table, len(k.Items), priorityOf(k)),
			})
		case d.StatusChanged() && d.To == string(status.KOTReady):
			out = append(out, Alert{
				Kind:     AlertKOTReady,
				Audience: models.AudienceWaitstaff,
				Message:  fmt.Sprintf("Ticket #%d for %s is ready to serve", k.ID, table),
			})
		case d.StatusChanged() && d.To == string(status.KOTServed):
			out = append(out, Alert{
				Kind:     AlertKOTServed,
				Audience: models.AudienceStaff,
				Message:  fmt.Sprintf("Ticket #%d for %s has been served", k.ID, table),
			})
		}
		if d.ChefChanged && k.ChefID != nil && k.Active() {
			out = append(out, Alert{
				Kind:     AlertStaffAssigned,
				Audience: models.AudienceKitchen,
				Message:  fmt.Sprintf("Ticket #%d assigned to chef #%d", k.ID, *k.ChefID),
			})
		}
	}
	return out
}

func priorityOf(k *models.KOT) status.Priority {
	if k.Priority == "" {
		return status.PriorityNormal
	}
	return k.Priority
}

// Active lists unexpired alerts, oldest first.
func (n *Notifier) Active() []Alert {
	return n.ActiveFor("")
}

// ActiveFor lists unexpired alerts for audience; staff alerts reach everyone
// and an empty audience means all.
func (n *Notifier) ActiveFor(audience string) []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.clock.Now()
	var out []Alert
	for _, a := range n.active {
		if !now.Before(a.ExpiresAt) {
			continue
		}
		if audience == "" || a.Audience == audience || a.Audience == models.AudienceStaff {
			out = append(out, a)
		}
	}
	return out
}

// Dismiss removes an alert before it expires.
func (n *Notifier) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, a := range n.active {
		if a.ID == id {
			n.active = append(n.active[:i], n.active[i+1:]...)
			return true
		}
	}
	return false
}

// Sweep drops expired alerts and reports how many went.
func (n *Notifier) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.clock.Now()
	kept := n.active[:0]
	for _, a := range n.active {
		if now.Before(a.ExpiresAt) {
			kept = append(kept, a)
		}
	}
	dropped := len(n.active) - len(kept)
	n.active = kept
	return dropped
}

// Run sweeps periodically until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.clock.After(sweepEvery):
			n.Sweep()
		}
	}
}
