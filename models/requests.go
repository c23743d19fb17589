package models

import "github.com/yeremiapane/restaurant-sync/status"

type OrderItemDraft struct {
	ItemID    uint    `json:"item_id" binding:"required"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unit_price"`
	Note      string  `json:"note"`
}

// OrderDraft is what a waiter submits: table, staff and at least one item.
type OrderDraft struct {
	TableID       uint             `json:"table_id" binding:"required"`
	StaffID       uint             `json:"staff_id"`
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone"`
	BookingRef    *string          `json:"booking_ref"`
	Priority      status.Priority  `json:"priority"`
	Items         []OrderItemDraft `json:"items" binding:"required,min=1,dive"`
}

// KOTDraft adds items to an existing order and spawns a ticket for them.
type KOTDraft struct {
	OrderID          uint             `json:"order_id" binding:"required"`
	Priority         status.Priority  `json:"priority"`
	ChefID           *uint            `json:"chef_id"`
	EstimatedMinutes int              `json:"estimated_minutes"`
	Items            []OrderItemDraft `json:"items" binding:"required,min=1,dive"`
}

// StatusChange carries the target status and, optionally, the status the
// caller believes the entity is in. The store rejects with 409 on mismatch.
type StatusChange struct {
	Status string  `json:"status" binding:"required"`
	From   string  `json:"from,omitempty"`
	ChefID *uint   `json:"chef_id,omitempty"`
	Reason *string `json:"reason,omitempty"`
}

// TableStatusChange is a conditional table update. ExpectStatus and
// ExpectOrderID form the compare half of the compare-and-swap: the update
// applies only when the table is in one of ExpectStatus or already bound to
// ExpectOrderID.
type TableStatusChange struct {
	Status        status.TableStatus   `json:"status" binding:"required"`
	OrderID       *uint                `json:"order_id,omitempty"`
	ExpectStatus  []status.TableStatus `json:"expect_status,omitempty"`
	ExpectOrderID *uint                `json:"expect_order_id,omitempty"`
}

type TransferRequest struct {
	FromTableID uint   `json:"from_table_id"`
	ToTableID   uint   `json:"to_table_id" binding:"required"`
	Reason      string `json:"reason"`
}

type CouponRequest struct {
	Code     string  `json:"code" binding:"required"`
	Discount float64 `json:"discount" binding:"min=0"`
}

type TableDraft struct {
	TableNumber string `json:"table_number" binding:"required"`
	Capacity    int    `json:"capacity"`
	Location    string `json:"location"`
}
