package models

import (
	"time"

	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order kinds, fixed at creation
const (
	KindCatalog = "catalog"
	KindCustom  = "custom"
)

// Delivery options a customer can pick
const (
	DeliveryPickup   = "pickup"
	DeliveryDelivery = "delivery"
)

// Order is a catalog purchase/rental or a bespoke costume order
type Order struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber string    `gorm:"uniqueIndex;not null" json:"orderNumber"`
	Kind        string    `gorm:"not null;index" json:"kind"` // catalog or custom

	FullName string  `gorm:"not null" json:"fullName"`
	Email    string  `gorm:"not null;index" json:"email"`
	Phone    string  `json:"phone"`
	Address  *string `json:"address"`
	City     string  `json:"city"`
	State    *string `json:"state"`

	Items       []OrderItem  `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	Quantity    int          `gorm:"not null;default:1;check:quantity > 0" json:"quantity"`
	UnitPrice   *float64     `json:"unitPrice"`   // nullable until quoted for custom orders
	QuotedPrice *float64     `json:"quotedPrice"` // the quoted TOTAL, not the unit price
	PriceFinal  bool         `gorm:"not null;default:false" json:"priceFinal"`
	Images      []OrderImage `gorm:"foreignKey:OrderID" json:"-"`
	DesignURLs  []string     `gorm:"-" json:"designUrls,omitempty"` // computed, presigned in upload order
	DesignURL   *string      `gorm:"-" json:"designUrl,omitempty"`  // computed, first design

	Subtotal              float64 `gorm:"not null;default:0" json:"subtotal"`
	DiscountPercentage    float64 `gorm:"not null;default:0" json:"discountPercentage"`
	DiscountAmount        float64 `gorm:"not null;default:0" json:"discountAmount"`
	SubtotalAfterDiscount float64 `gorm:"not null;default:0" json:"subtotalAfterDiscount"`
	VAT                   float64 `gorm:"column:vat;not null;default:0" json:"vat"`
	Total                 float64 `gorm:"not null;default:0" json:"total"`

	Status         workflow.Status  `gorm:"not null;default:'pending';index" json:"status"`
	CurrentHandler workflow.Handler `gorm:"not null;default:'production'" json:"currentHandler"`
	HandoffAt      *time.Time       `json:"handoffAt"` // set once, on mark_ready

	DeliveryOption       *string    `json:"deliveryOption"`
	DeliveryAddress      *string    `json:"deliveryAddress"`
	ProposedDeliveryDate *time.Time `json:"proposedDeliveryDate"`
	Notes                *string    `gorm:"type:text" json:"notes"`

	PaymentReference *string    `gorm:"uniqueIndex" json:"paymentReference,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`

	IsActive  bool           `gorm:"not null;default:true" json:"isActive"`
	Version   int            `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate assigns the UUID primary key
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsCustom reports whether the order is a bespoke order
func (o *Order) IsCustom() bool {
	return o.Kind == KindCustom
}
