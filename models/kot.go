package models

import (
	"time"

	"github.com/yeremiapane/restaurant-sync/status"
)

// KOT is a kitchen order ticket: the slice of an order's items sent to the
// kitchen at one point in time.
type KOT struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	OrderID          uint             `gorm:"index;not null" json:"order_id"`
	TableNumber      string           `gorm:"type:varchar(50)" json:"table_number"`
	Items            []KOTItem        `gorm:"foreignKey:KOTID;constraint:OnDelete:CASCADE" json:"items"`
	Priority         status.Priority  `gorm:"type:varchar(10);not null" json:"priority"`
	ChefID           *uint            `gorm:"index" json:"chef_id,omitempty"`
	EstimatedMinutes int              `json:"estimated_minutes"`
	Status           status.KOTStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Version          uint64           `gorm:"not null" json:"version"`
	CreatedAt        time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null" json:"updated_at"`
}

func (KOT) TableName() string {
	return "kots"
}

type KOTItem struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	KOTID    uint   `gorm:"column:kot_id;index;not null" json:"kot_id"`
	ItemID   uint   `gorm:"not null" json:"item_id"`
	Name     string `gorm:"type:varchar(255)" json:"name"`
	Quantity int    `gorm:"not null" json:"quantity"`
	Note     string `gorm:"type:text" json:"note,omitempty"`
}

func (KOTItem) TableName() string {
	return "kot_items"
}

func (k *KOT) Active() bool {
	return k.Status.Active()
}
