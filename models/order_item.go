package models

import (
	"time"

	"github.com/google/uuid"
)

// Item modes for catalog lines
const (
	ModeBuy  = "buy"
	ModeRent = "rent"
)

// OrderItem is one line of a catalog order
type OrderItem struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"orderId"`
	Position   int       `gorm:"not null" json:"-"`
	ProductRef string    `gorm:"not null" json:"productRef"`
	Name       string    `gorm:"not null" json:"name"`
	Quantity   int       `gorm:"not null;check:quantity > 0" json:"quantity"`
	UnitPrice  float64   `gorm:"not null;check:unit_price >= 0" json:"unitPrice"`
	Mode       string    `gorm:"not null;default:'buy'" json:"mode"` // buy or rent
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName specifies the table name for the OrderItem model
func (OrderItem) TableName() string {
	return "order_items"
}
