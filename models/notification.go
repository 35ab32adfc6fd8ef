package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbox states
const (
	NotificationPending = "pending"
	NotificationQueued  = "queued"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is an outbox row for a customer email, written in the same
// transaction as the change that caused it
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OrderID   *uuid.UUID `gorm:"type:uuid;index" json:"orderId"`
	Template  string     `gorm:"not null" json:"template"`
	Recipient string     `gorm:"not null" json:"recipient"`
	Subject   string     `gorm:"not null" json:"subject"`
	Body      string     `gorm:"type:text;not null" json:"body"`
	Status    string     `gorm:"not null;default:'pending';index" json:"status"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError *string    `gorm:"type:text" json:"lastError"`
	QueuedAt  *time.Time `json:"queuedAt"`
	SentAt    *time.Time `json:"sentAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}
