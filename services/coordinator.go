package services

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// ViewDelta describes one applied change to the local view.
type ViewDelta struct {
	Key      models.EntityKey
	From     string
	To       string
	Seq      uint64
	OriginAt time.Time
	Source   models.EventSource
	Created  bool
	// Baseline deltas come from the initial load and raise no alerts.
	Baseline bool

	ChefChanged bool

	Order *models.Order
	KOT   *models.KOT
	Table *models.Table
}

func (d ViewDelta) StatusChanged() bool {
	return d.From != d.To
}

type viewEntry struct {
	status   string
	seq      uint64
	originAt time.Time
}

// Coordinator is the client's single view of orders, tickets and tables,
// built from interleaved push events and poll snapshots.
type Coordinator struct {
	mu      sync.Mutex
	entries map[models.EntityKey]viewEntry
	orders  map[uint]models.Order
	kots    map[uint]models.KOT
	tables  map[uint]models.Table

	// held while observers run so deltas reach them in apply order
	notifyMu  sync.Mutex
	observers []func(ViewDelta)

	log logrus.FieldLogger
}

func NewCoordinator(log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		entries: map[models.EntityKey]viewEntry{},
		orders:  map[uint]models.Order{},
		kots:    map[uint]models.KOT{},
		tables:  map[uint]models.Table{},
		log:     utils.Logger(log),
	}
}

// OnDelta registers an observer. Observers may read the views but must not
// call Apply.
func (c *Coordinator) OnDelta(fn func(ViewDelta)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Apply folds ev into the view. It returns false when the event is a
// replay, older than what is held, or a tie the current view wins.
func (c *Coordinator) Apply(ev models.StatusEvent) (ViewDelta, bool) {
	return c.apply(ev, false)
}

// Seed applies ev as part of the initial load.
func (c *Coordinator) Seed(ev models.StatusEvent) (ViewDelta, bool) {
	return c.apply(ev, true)
}

func (c *Coordinator) apply(ev models.StatusEvent, baseline bool) (ViewDelta, bool) {
	to, ok := normalizeStatus(ev.Kind, ev.Status)
	if !ok {
		c.log.WithFields(logrus.Fields{"entity": ev.Key().String(), "status": ev.Status}).Warn("dropping event with unknown status")
		return ViewDelta{}, false
	}
	key := ev.Key()

	c.mu.Lock()
	prev, known := c.entries[key]
	if known && !supersedes(prev, ev, to) {
		c.mu.Unlock()
		return ViewDelta{}, false
	}

	delta := ViewDelta{
		Key:      key,
		From:     prev.status,
		To:       to,
		Seq:      ev.Seq,
		OriginAt: ev.OriginAt,
		Source:   ev.Source,
		Created:  !known,
		Baseline: baseline,
	}
	// an unsequenced event never lowers the floor later events are judged by
	if ev.Seq < prev.seq {
		ev.Seq = prev.seq
	}
	c.entries[key] = viewEntry{status: to, seq: ev.Seq, originAt: ev.OriginAt}
	c.fold(ev, to, &delta)

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"entity": key.String(),
		"from":   delta.From,
		"to":     delta.To,
		"seq":    delta.Seq,
		"source": delta.Source,
	}).Debug("view updated")
	for _, fn := range c.observers {
		fn(delta)
	}
	return delta, true
}

// supersedes holds the ordering rules. A strictly higher sequence always
// wins and a lower one never does. Without a usable sequence (equal, or the
// store sent none) the incoming state wins only when it differs and its
// server timestamp is strictly newer; ties keep the current view.
func supersedes(prev viewEntry, ev models.StatusEvent, to string) bool {
	if ev.Seq > 0 && prev.seq > 0 && ev.Seq != prev.seq {
		return ev.Seq > prev.seq
	}
	if to == prev.status && ev.Seq == prev.seq {
		return false
	}
	return ev.OriginAt.After(prev.originAt)
}

func normalizeStatus(kind status.EntityKind, raw string) (string, bool) {
	switch kind {
	case status.KindOrder:
		s, ok := status.ParseOrderStatus(raw)
		return string(s), ok
	case status.KindKOT:
		s, ok := status.ParseKOTStatus(raw)
		return string(s), ok
	case status.KindTable:
		s, ok := status.ParseTableStatus(raw)
		return string(s), ok
	}
	return "", false
}

// fold updates the typed view from the snapshot, or just the status when
// the event carries none. Called with c.mu held.
func (c *Coordinator) fold(ev models.StatusEvent, to string, d *ViewDelta) {
	switch ev.Kind {
	case status.KindOrder:
		o := c.orders[ev.EntityID]
		var snap models.Order
		if ev.DecodeSnapshot(&snap) == nil {
			o = snap
		}
		o.ID, o.Status, o.Version = ev.EntityID, status.OrderStatus(to), ev.Seq
		if !ev.OriginAt.IsZero() {
			o.UpdatedAt = ev.OriginAt
		}
		c.orders[o.ID] = o
		d.Order = &o

	case status.KindKOT:
		k, had := c.kots[ev.EntityID]
		prevChef := k.ChefID
		var snap models.KOT
		if ev.DecodeSnapshot(&snap) == nil {
			k = snap
		}
		k.ID, k.Status, k.Version = ev.EntityID, status.KOTStatus(to), ev.Seq
		if !ev.OriginAt.IsZero() {
			k.UpdatedAt = ev.OriginAt
		}
		d.ChefChanged = had && k.ChefID != nil && (prevChef == nil || *prevChef != *k.ChefID)
		c.kots[k.ID] = k
		d.KOT = &k

	case status.KindTable:
		t := c.tables[ev.EntityID]
		var snap models.Table
		if ev.DecodeSnapshot(&snap) == nil {
			t = snap
		}
		t.ID, t.Status, t.Version = ev.EntityID, status.TableStatus(to), ev.Seq
		if t.Status != status.TableOccupied {
			t.OrderID = nil
		}
		if !ev.OriginAt.IsZero() {
			t.UpdatedAt = ev.OriginAt
		}
		c.tables[t.ID] = t
		d.Table = &t
	}
}

func (c *Coordinator) Order(id uint) (models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Coordinator) KOT(id uint) (models.KOT, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.kots[id]
	return k, ok
}

func (c *Coordinator) Table(id uint) (models.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[id]
	return t, ok
}

// Seq is the last applied sequence for key, 0 when unknown.
func (c *Coordinator) Seq(key models.EntityKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key].seq
}

func (c *Coordinator) Orders() []models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveKOTs are the tickets still in front of the kitchen, oldest first.
func (c *Coordinator) ActiveKOTs() []models.KOT {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.KOT, 0, len(c.kots))
	for _, k := range c.kots {
		if k.Active() {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) Tables() []models.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
