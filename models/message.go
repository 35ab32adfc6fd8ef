package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sender types
const (
	SenderAdmin    = "admin"
	SenderCustomer = "customer"
)

// Message types
const (
	MessageText           = "text"
	MessageQuote          = "quote"
	MessageNegotiation    = "negotiation"
	MessageSystem         = "system"
	MessageQuantityUpdate = "quantity-update"
	MessageReview         = "review"
)

// Message is one line of the conversation attached to an order
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"` // monotonic, used as the polling cursor
	OrderID     uuid.UUID `gorm:"type:uuid;not null;index" json:"orderId"`
	OrderNumber string    `gorm:"not null;index" json:"orderNumber"`
	SenderEmail string    `gorm:"not null" json:"senderEmail"`
	SenderName  string    `gorm:"not null" json:"senderName"`
	SenderType  string    `gorm:"not null" json:"senderType"` // admin or customer
	Content     string    `gorm:"type:text" json:"content"`
	MessageType string    `gorm:"not null;default:'text';index" json:"messageType"`

	QuotedPrice        *float64   `json:"quotedPrice,omitempty"` // unit price as proposed
	QuotedVAT          *float64   `gorm:"column:quoted_vat" json:"quotedVAT,omitempty"`
	QuotedTotal        *float64   `json:"quotedTotal,omitempty"`
	DiscountPercentage *float64   `json:"discountPercentage,omitempty"`
	DiscountAmount     *float64   `json:"discountAmount,omitempty"`
	IsFinalPrice       bool       `gorm:"not null;default:false" json:"isFinalPrice"`
	QuotedDeliveryDate *time.Time `json:"quotedDeliveryDate,omitempty"`
	DeliveryOption     *string    `json:"deliveryOption,omitempty"`
	Quantity           *int       `json:"quantity,omitempty"` // quantity-update payload
	Rating             *int       `json:"rating,omitempty"`   // review payload

	IsRead    bool           `gorm:"not null;default:false" json:"isRead"`
	ReadAt    *time.Time     `json:"readAt"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the Message model
func (Message) TableName() string {
	return "messages"
}
