package models

import (
	"time"

	"github.com/yeremiapane/restaurant-sync/status"
)

const (
	LocationDining  = "dining"
	LocationRooftop = "rooftop"
)

type Table struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	TableNumber string             `gorm:"type:varchar(50);not null" json:"table_number"`
	Capacity    int                `gorm:"not null" json:"capacity"`
	Location    string             `gorm:"type:varchar(20);not null" json:"location"`
	Status      status.TableStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	IsActive    bool               `gorm:"not null" json:"is_active"`
	OrderID     *uint              `gorm:"index" json:"order_id,omitempty"` // bound order while occupied
	Version     uint64             `gorm:"not null" json:"version"`
	CreatedAt   time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"not null" json:"updated_at"`
}

// OccupiedByOther -> the table is held by an order other than orderID.
func (t *Table) OccupiedByOther(orderID uint) bool {
	return t.Status == status.TableOccupied && t.OrderID != nil && *t.OrderID != orderID
}

// TableTransfer is the audit row written for every table transfer.
type TableTransfer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderID     uint      `gorm:"index;not null" json:"order_id"`
	FromTableID uint      `gorm:"not null" json:"from_table_id"`
	ToTableID   uint      `gorm:"not null" json:"to_table_id"`
	Reason      string    `gorm:"type:text" json:"reason"`
	ActorID     uint      `json:"actor_id"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}
