package models

import "time"

// MenuItem is read-only reference data for order entry.
type MenuItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Category  string    `gorm:"type:varchar(100);index" json:"category"`
	Price     float64   `gorm:"type:decimal(12,2);not null" json:"price"`
	Available bool      `gorm:"not null" json:"available"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Disbursement is the pantry module's stock issue event. Only its category
// matters here: kitchen-relevant ones trigger a refresh.
type Disbursement struct {
	ID        uint      `json:"id"`
	ItemName  string    `json:"item_name"`
	Category  string    `json:"category"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	IssuedTo  string    `json:"issued_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
