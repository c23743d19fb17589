// Package status declares the order, KOT and table state machines. It is the
// only place transitions are defined; everything else asks it.
package status

import "strings"

type EntityKind string

const (
	KindOrder EntityKind = "order"
	KindKOT   EntityKind = "kot"
	KindTable EntityKind = "table"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderCompleted OrderStatus = "completed"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

type KOTStatus string

const (
	KOTPending   KOTStatus = "pending"
	KOTPreparing KOTStatus = "preparing"
	KOTReady     KOTStatus = "ready"
	KOTServed    KOTStatus = "served"
)

type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableMaintenance TableStatus = "maintenance"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderPreparing, OrderCancelled},
	OrderPreparing: {OrderReady, OrderCancelled},
	OrderReady:     {OrderServed},
	OrderServed:    {OrderCompleted},
	OrderCompleted: {OrderPaid},
}

var kotTransitions = map[KOTStatus][]KOTStatus{
	KOTPending:   {KOTPreparing},
	KOTPreparing: {KOTReady},
	KOTReady:     {KOTServed},
}

var tableTransitions = map[TableStatus][]TableStatus{
	TableAvailable:   {TableOccupied, TableReserved, TableMaintenance},
	TableOccupied:    {TableAvailable},
	TableReserved:    {TableOccupied, TableAvailable, TableMaintenance},
	TableMaintenance: {TableAvailable, TableReserved},
}

// order chain position, cancelled sits outside the chain
var orderRank = map[OrderStatus]int{
	OrderPending:   1,
	OrderPreparing: 2,
	OrderReady:     3,
	OrderServed:    4,
	OrderCompleted: 5,
	OrderPaid:      6,
}

var kotCascade = map[KOTStatus]OrderStatus{
	KOTPending:   OrderPending,
	KOTPreparing: OrderPreparing,
	KOTReady:     OrderReady,
	KOTServed:    OrderServed,
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// IsValidTransition -> true only for transitions listed in the adjacency tables.
func IsValidTransition(kind EntityKind, from, to string) bool {
	switch kind {
	case KindOrder:
		return OrderStatus(from).CanTransitionTo(OrderStatus(to))
	case KindKOT:
		return KOTStatus(from).CanTransitionTo(KOTStatus(to))
	case KindTable:
		return TableStatus(from).CanTransitionTo(TableStatus(to))
	}
	return false
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return contains(orderTransitions[s], to)
}

func (s KOTStatus) CanTransitionTo(to KOTStatus) bool {
	return contains(kotTransitions[s], to)
}

func (s TableStatus) CanTransitionTo(to TableStatus) bool {
	return contains(tableTransitions[s], to)
}

// CascadeOrderStatus returns the order status forced by a KOT status change.
// No KOT status maps to completed, paid or cancelled.
func CascadeOrderStatus(k KOTStatus) (OrderStatus, bool) {
	s, ok := kotCascade[k]
	return s, ok
}

// KOTsReaching lists the ticket statuses whose cascade carries an order at
// least as far as target.
func KOTsReaching(target OrderStatus) []KOTStatus {
	if Rank(target) == 0 {
		return nil
	}
	var out []KOTStatus
	for _, k := range []KOTStatus{KOTPending, KOTPreparing, KOTReady, KOTServed} {
		if Rank(kotCascade[k]) >= Rank(target) {
			out = append(out, k)
		}
	}
	return out
}

// Rank is the order's position on the pending..paid chain, 0 for cancelled or unknown.
func Rank(s OrderStatus) int {
	return orderRank[s]
}

// IsTerminal reports whether an order accepts no further mutation.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

// IsClosed covers terminal orders plus completed ones, which kitchen cascades never touch.
func (s OrderStatus) IsClosed() bool {
	return s.IsTerminal() || s == OrderCompleted
}

// Cancellable -> statuses from which the cancel branch leaves the chain.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderPreparing
}

// AdvancesOrder reports whether a cascaded target lies ahead of current. A
// cascade may jump more than one step when an order lagged behind its tickets,
// but it never regresses and never moves a closed order.
func AdvancesOrder(current, target OrderStatus) bool {
	if current.IsClosed() || Rank(target) == 0 || Rank(target) > Rank(OrderServed) {
		return false
	}
	return Rank(target) > Rank(current)
}

func (s OrderStatus) Valid() bool {
	return s == OrderCancelled || Rank(s) > 0
}

func (s KOTStatus) Valid() bool {
	_, ok := kotCascade[s]
	return ok
}

func (s TableStatus) Valid() bool {
	_, ok := tableTransitions[s]
	return ok
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Active KOTs are the ones still in front of the kitchen.
func (s KOTStatus) Active() bool {
	return s != KOTServed
}

// ParseOrderStatus normalizes the spellings seen on the wire.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(normalize(raw))
	switch s {
	case "in_progress", "processing", "cooking":
		s = OrderPreparing
	case "canceled":
		s = OrderCancelled
	}
	return s, s.Valid()
}

func ParseKOTStatus(raw string) (KOTStatus, bool) {
	s := KOTStatus(normalize(raw))
	switch s {
	case "in_progress", "cooking":
		s = KOTPreparing
	case "completed", "delivered":
		s = KOTServed
	}
	return s, s.Valid()
}

func ParseTableStatus(raw string) (TableStatus, bool) {
	s := TableStatus(normalize(raw))
	switch s {
	case "free", "vacant":
		s = TableAvailable
	case "booked":
		s = TableReserved
	}
	return s, s.Valid()
}

func ParsePriority(raw string) Priority {
	p := Priority(normalize(raw))
	if !p.Valid() {
		return PriorityNormal
	}
	return p
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
