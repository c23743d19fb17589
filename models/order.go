package models

import (
	"math"
	"time"

	"github.com/yeremiapane/restaurant-sync/status"
)

// CancellationWindow -> how long after creation an order may still be cancelled.
const CancellationWindow = 2 * time.Minute

type Order struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	TableID       uint               `gorm:"index;not null" json:"table_id"`
	StaffID       uint               `gorm:"index" json:"staff_id"`
	CustomerName  string             `gorm:"type:varchar(100)" json:"customer_name,omitempty"`
	CustomerPhone string             `gorm:"type:varchar(30)" json:"customer_phone,omitempty"`
	BookingRef    *string            `gorm:"type:varchar(50)" json:"booking_ref,omitempty"` // GRC for in-house guests
	Items         []OrderItem        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	Amount        float64            `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status        status.OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CouponCode    string             `gorm:"type:varchar(50)" json:"coupon_code,omitempty"`
	Discount      float64            `gorm:"type:decimal(12,2);not null" json:"discount"`
	Version       uint64             `gorm:"not null" json:"version"`
	CreatedAt     time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"not null" json:"updated_at"`
}

type OrderItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	ItemID    uint      `gorm:"not null" json:"item_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice float64   `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Note      string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (o *Order) Subtotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}

// ComputeAmount -> subtotal minus coupon discount, rounded to cents, never negative.
func (o *Order) ComputeAmount() float64 {
	amount := o.Subtotal() - o.Discount
	if amount < 0 {
		amount = 0
	}
	return math.Round(amount*100) / 100
}

// Active orders still hold their table.
func (o *Order) Active() bool {
	return !o.Status.IsClosed()
}

// CancellableAt -> status and window both allow cancellation at now.
func (o *Order) CancellableAt(now time.Time) bool {
	return o.Status.Cancellable() && now.Sub(o.CreatedAt) <= CancellationWindow
}
