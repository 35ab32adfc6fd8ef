package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/pricing"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Viewers that can poll a conversation
const (
	ViewerAdmin      = "admin"
	ViewerCustomer   = "customer"
	ViewerProduction = "production"
	ViewerLogistics  = "logistics"
)

// MessageInput is the JSON body of a new message
type MessageInput struct {
	OrderID            string     `json:"orderId"`
	OrderNumber        string     `json:"orderNumber"`
	SenderEmail        string     `json:"senderEmail" validate:"required,email"`
	SenderName         string     `json:"senderName" validate:"required"`
	SenderType         string     `json:"senderType" validate:"required,oneof=admin customer"`
	Content            string     `json:"content"`
	MessageType        string     `json:"messageType" validate:"omitempty,oneof=text quote negotiation system quantity-update review"`
	QuotedPrice        *float64   `json:"quotedPrice" validate:"omitempty,gte=0"`
	IsFinalPrice       bool       `json:"isFinalPrice"`
	QuotedDeliveryDate *time.Time `json:"quotedDeliveryDate"`
	DeliveryOption     *string    `json:"deliveryOption" validate:"omitempty,oneof=pickup delivery"`
	Quantity           *int       `json:"quantity" validate:"omitempty,gt=0"`
	Rating             *int       `json:"rating" validate:"omitempty,min=1,max=5"`
}

// MessageQuery selects the messages returned by a poll
type MessageQuery struct {
	OrderID     string
	OrderNumber string
	After       uint
	Viewer      string
	MessageType string
}

// MessageList is one page of a conversation
type MessageList struct {
	Messages []models.Message
	Order    *models.Order
	Cursor   uint
}

// MessageService stores conversation messages and applies their side effects to orders
type MessageService struct {
	db      *gorm.DB
	orders  *OrderService
	idem    IdempotencyStore
	vatRate float64
	now     func() time.Time
}

// NewMessageService creates a message service. idem may be nil to disable idempotency keys.
func NewMessageService(db *gorm.DB, orders *OrderService, idem IdempotencyStore, vatRate float64) *MessageService {
	return &MessageService{db: db, orders: orders, idem: idem, vatRate: vatRate, now: time.Now}
}

// Create stores a message and applies its side effects to the order in one transaction.
// When key is set and was already processed, the original message is returned with replay true.
func (s *MessageService) Create(ctx context.Context, in MessageInput, key string) (*models.Message, bool, error) {
	if key == "" || s.idem == nil {
		msg, err := s.create(ctx, in)
		return msg, false, err
	}

	if msg, ok, err := s.replay(ctx, key); err != nil || ok {
		return msg, ok, err
	}

	reserved, err := s.idem.Reserve(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !reserved {
		if msg, ok, err := s.replay(ctx, key); err != nil || ok {
			return msg, ok, err
		}
		return nil, false, ErrIdempotencyInUse
	}

	msg, err := s.create(ctx, in)
	if err != nil {
		if releaseErr := s.idem.Release(ctx, key); releaseErr != nil {
			slog.Warn("failed to release idempotency key", "key", key, "error", releaseErr)
		}
		return nil, false, err
	}

	if err := s.idem.Complete(ctx, key, strconv.FormatUint(uint64(msg.ID), 10)); err != nil {
		slog.Warn("failed to record idempotency key", "key", key, "message_id", msg.ID, "error", err)
	}
	return msg, false, nil
}

func (s *MessageService) replay(ctx context.Context, key string) (*models.Message, bool, error) {
	stored, ok, err := s.idem.Lookup(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	id, err := strconv.ParseUint(stored, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt idempotency record for %q: %w", key, err)
	}

	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, uint(id)).Error; err != nil {
		return nil, false, fmt.Errorf("load replayed message: %w", err)
	}
	return &msg, true, nil
}

func (s *MessageService) create(ctx context.Context, in MessageInput) (*models.Message, error) {
	if in.MessageType == "" {
		in.MessageType = models.MessageText
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := checkMessageShape(in); err != nil {
		return nil, err
	}

	order, err := s.resolveOrder(ctx, in.OrderID, in.OrderNumber)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		OrderID:            order.ID,
		OrderNumber:        order.OrderNumber,
		SenderEmail:        strings.TrimSpace(in.SenderEmail),
		SenderName:         strings.TrimSpace(in.SenderName),
		SenderType:         in.SenderType,
		Content:            strings.TrimSpace(in.Content),
		MessageType:        in.MessageType,
		QuotedDeliveryDate: in.QuotedDeliveryDate,
		DeliveryOption:     in.DeliveryOption,
		Quantity:           in.Quantity,
		Rating:             in.Rating,
		IsFinalPrice:       in.IsFinalPrice && in.SenderType == models.SenderAdmin,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadActiveOrder(tx, order.ID, "")
		if err != nil {
			return err
		}
		if current.PriceFinal && touchesPrice(in) {
			return ErrPriceFinalized
		}

		updates, quote, err := s.sideEffects(current, in, &msg)
		if err != nil {
			return err
		}

		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if len(updates) > 0 {
			if err := writeOrder(tx, current, updates); err != nil {
				return err
			}
		}
		if quote != nil {
			return EnqueueOrderEmail(tx, NotifyQuote, current, EmailData{
				Amount: formatAmount(quote.Total),
				Final:  msg.IsFinalPrice,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("message created",
		"order_number", msg.OrderNumber,
		"message_id", msg.ID,
		"sender_type", msg.SenderType,
		"message_type", msg.MessageType)
	return &msg, nil
}

// checkMessageShape enforces the payload each message type needs
func checkMessageShape(in MessageInput) error {
	switch in.MessageType {
	case models.MessageQuote:
		if in.SenderType != models.SenderAdmin {
			return fmt.Errorf("%w: only admins can send quotes", ErrValidation)
		}
		if in.QuotedPrice == nil {
			return fmt.Errorf("%w: quotedPrice is required for quote messages", ErrValidation)
		}
	case models.MessageQuantityUpdate:
		if in.Quantity == nil {
			return fmt.Errorf("%w: quantity is required for quantity-update messages", ErrValidation)
		}
	case models.MessageReview:
		if in.SenderType != models.SenderCustomer {
			return fmt.Errorf("%w: only customers can leave reviews", ErrValidation)
		}
		if in.Rating == nil {
			return fmt.Errorf("%w: rating is required for review messages", ErrValidation)
		}
	case models.MessageSystem:
		if in.SenderType != models.SenderAdmin {
			return fmt.Errorf("%w: only admins can send system messages", ErrValidation)
		}
	}

	structured := in.MessageType == models.MessageQuote ||
		in.MessageType == models.MessageQuantityUpdate ||
		in.MessageType == models.MessageReview ||
		in.QuotedPrice != nil
	if !structured && strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	return nil
}

// touchesPrice reports whether a message would renegotiate the order's price
func touchesPrice(in MessageInput) bool {
	switch in.MessageType {
	case models.MessageQuote, models.MessageNegotiation, models.MessageQuantityUpdate:
		return true
	}
	return in.QuotedPrice != nil || in.IsFinalPrice
}

// sideEffects fills the quote breakdown on msg and returns the order columns it changes.
// The returned breakdown is non-nil when an admin quote was applied to the order.
func (s *MessageService) sideEffects(order *models.Order, in MessageInput, msg *models.Message) (map[string]interface{}, *pricing.Breakdown, error) {
	updates := map[string]interface{}{}

	quantity := order.Quantity
	quantityChanged := false
	if in.MessageType == models.MessageQuantityUpdate {
		quantity = *in.Quantity
		updates["quantity"] = quantity
		quantityChanged = true
	}

	var quote *pricing.Breakdown
	if in.QuotedPrice != nil {
		b, err := pricing.CalculateWithRate(*in.QuotedPrice, quantity, s.vatRate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		msg.QuotedPrice = in.QuotedPrice
		msg.QuotedVAT = &b.VAT
		msg.QuotedTotal = &b.Total
		msg.DiscountPercentage = &b.DiscountPercentage
		msg.DiscountAmount = &b.DiscountAmount

		if in.SenderType == models.SenderAdmin && (in.MessageType == models.MessageQuote || in.IsFinalPrice) {
			applyBreakdown(updates, *in.QuotedPrice, b)
			if in.QuotedDeliveryDate != nil {
				updates["proposed_delivery_date"] = *in.QuotedDeliveryDate
			}
			quote = &b
		}
	}

	// A new quantity without an applied quote re-prices from the order's unit price.
	// Offers that are not applied stay on the message only.
	if quantityChanged && quote == nil && order.UnitPrice != nil {
		b, err := pricing.CalculateWithRate(*order.UnitPrice, quantity, s.vatRate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		applyBreakdown(updates, *order.UnitPrice, b)
	}

	if msg.IsFinalPrice {
		if in.QuotedPrice == nil && order.UnitPrice == nil {
			return nil, nil, fmt.Errorf("%w: a final price needs quotedPrice or an existing quote", ErrValidation)
		}
		updates["price_final"] = true
	}

	if in.SenderType == models.SenderCustomer && in.DeliveryOption != nil {
		updates["delivery_option"] = *in.DeliveryOption
	}

	return updates, quote, nil
}

// applyBreakdown sets the order pricing columns. quoted_price holds the total.
func applyBreakdown(updates map[string]interface{}, unitPrice float64, b pricing.Breakdown) {
	updates["unit_price"] = unitPrice
	updates["quoted_price"] = b.Total
	updates["subtotal"] = b.Subtotal
	updates["discount_percentage"] = b.DiscountPercentage
	updates["discount_amount"] = b.DiscountAmount
	updates["subtotal_after_discount"] = b.SubtotalAfterDiscount
	updates["vat"] = b.VAT
	updates["total"] = b.Total
}

func formatAmount(v float64) string {
	return "NGN " + decimal.NewFromFloat(v).StringFixed(2)
}

func (s *MessageService) resolveOrder(ctx context.Context, orderID, orderNumber string) (*models.Order, error) {
	switch {
	case strings.TrimSpace(orderID) != "":
		return s.orders.Get(ctx, orderID)
	case strings.TrimSpace(orderNumber) != "":
		return s.orders.GetByNumber(ctx, orderNumber)
	default:
		return nil, ErrNoMessageSelector
	}
}

// List returns the messages of a conversation after the cursor, oldest first.
// With messageType review and no order selector it lists reviews across all active orders.
func (s *MessageService) List(ctx context.Context, q MessageQuery) (*MessageList, error) {
	switch q.Viewer {
	case "", ViewerAdmin, ViewerCustomer, ViewerProduction, ViewerLogistics:
	default:
		return nil, fmt.Errorf("%w: unknown viewer %q", ErrValidation, q.Viewer)
	}

	result := &MessageList{Messages: []models.Message{}, Cursor: q.After}
	query := s.db.WithContext(ctx).Model(&models.Message{}).
		Select("messages.*").
		Where("messages.id > ?", q.After)

	global := q.MessageType == models.MessageReview &&
		strings.TrimSpace(q.OrderID) == "" && strings.TrimSpace(q.OrderNumber) == ""
	if global {
		query = query.Joins("JOIN orders ON orders.id = messages.order_id AND orders.is_active = ? AND orders.deleted_at IS NULL", true)
	} else {
		order, err := s.resolveOrder(ctx, q.OrderID, q.OrderNumber)
		if err != nil {
			return nil, err
		}
		result.Order = order

		if q.Viewer == ViewerLogistics {
			if order.HandoffAt == nil {
				return result, nil
			}
			query = query.Where("messages.created_at >= ?", *order.HandoffAt)
		}
		query = query.Where("messages.order_id = ?", order.ID)
	}
	if q.MessageType != "" {
		query = query.Where("messages.message_type = ?", q.MessageType)
	}

	if err := query.Order("messages.id ASC").Find(&result.Messages).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if n := len(result.Messages); n > 0 {
		result.Cursor = result.Messages[n-1].ID
	}
	return result, nil
}

// MarkRead marks the given messages as read. Already-read messages are left alone.
func (s *MessageService) MarkRead(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: messageIds must not be empty", ErrValidation)
	}

	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ? AND is_read = ?", ids, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": s.now()})
	if res.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkOrderRead marks the unread messages of an order as read. A reader only
// reads the other party's messages; an empty readerType reads everything.
func (s *MessageService) MarkOrderRead(ctx context.Context, orderID, readerType string) (int64, error) {
	id, err := ParseOrderID(orderID)
	if err != nil {
		return 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("order_id = ? AND is_read = ?", id, false)
	switch readerType {
	case "":
	case models.SenderAdmin:
		query = query.Where("sender_type <> ?", models.SenderAdmin)
	case models.SenderCustomer:
		query = query.Where("sender_type <> ?", models.SenderCustomer)
	default:
		return 0, fmt.Errorf("%w: readerType must be admin or customer", ErrValidation)
	}

	res := query.Updates(map[string]interface{}{"is_read": true, "read_at": s.now()})
	if res.Error != nil {
		return 0, fmt.Errorf("mark order messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteForOrder removes every message of an order, including orders that were soft-deleted
func (s *MessageService) DeleteForOrder(ctx context.Context, orderID string) (int64, error) {
	id, err := ParseOrderID(orderID)
	if err != nil {
		return 0, err
	}

	var order models.Order
	if err := s.db.WithContext(ctx).Unscoped().Select("id").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrOrderNotFound
		}
		return 0, fmt.Errorf("load order: %w", err)
	}

	res := s.db.WithContext(ctx).Where("order_id = ?", id).Delete(&models.Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete messages: %w", res.Error)
	}

	slog.Info("messages deleted", "order_id", id, "count", res.RowsAffected)
	return res.RowsAffected, nil
}
