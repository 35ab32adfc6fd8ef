package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is issued once a payment for an order has been verified
type Invoice struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	InvoiceNumber         string    `gorm:"uniqueIndex;not null" json:"invoiceNumber"`
	OrderID               uuid.UUID `gorm:"type:uuid;not null;index" json:"orderId"`
	PaymentReference      string    `gorm:"uniqueIndex;not null" json:"paymentReference"`
	AmountPaid            float64   `gorm:"not null" json:"amountPaid"`
	Subtotal              float64   `gorm:"not null" json:"subtotal"`
	DiscountAmount        float64   `gorm:"not null" json:"discountAmount"`
	SubtotalAfterDiscount float64   `gorm:"not null" json:"subtotalAfterDiscount"`
	VAT                   float64   `gorm:"column:vat;not null" json:"vat"`
	Total                 float64   `gorm:"not null" json:"total"`
	IssuedAt              time.Time `gorm:"not null" json:"issuedAt"`
	CreatedAt             time.Time `json:"createdAt"`
}

// TableName specifies the table name for the Invoice model
func (Invoice) TableName() string {
	return "invoices"
}
