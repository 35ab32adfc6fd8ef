package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderImage is a design reference uploaded with a custom order
type OrderImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"orderId"`
	Position  int       `gorm:"not null" json:"position"` // upload order, starting at 0
	S3Key     string    `gorm:"column:s3_key;not null" json:"s3Key"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for the OrderImage model
func (OrderImage) TableName() string {
	return "order_images"
}
