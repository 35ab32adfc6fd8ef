package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"sort"
	"strings"
	"time"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/pricing"
	"github.com/costume-atelier/atelier-api/utils"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxOrderNumberRetries = 3

// Order number prefixes by kind
const (
	customOrderPrefix  = "CUS"
	catalogOrderPrefix = "ORD"
)

// fields accepted by the unified order PATCH
var orderPatchFields = map[string]bool{
	"status":               true,
	"trigger":              true,
	"fullName":             true,
	"email":                true,
	"phone":                true,
	"address":              true,
	"city":                 true,
	"state":                true,
	"deliveryOption":       true,
	"deliveryAddress":      true,
	"proposedDeliveryDate": true,
	"notes":                true,
	"version":              true,
}

// fields accepted by the custom order PATCH
var statusPatchFields = map[string]bool{
	"status":  true,
	"version": true,
}

// CustomOrderInput holds the form fields of a bespoke order request
type CustomOrderInput struct {
	FullName    string  `validate:"required"`
	Email       string  `validate:"required,email"`
	Phone       string  `validate:"required"`
	City        string  `validate:"required"`
	State       *string
	Address     *string
	Description string  `validate:"required"`
	Quantity    int     `validate:"gte=1"`
}

// CatalogItemInput is one line of a catalog order request
type CatalogItemInput struct {
	ProductRef string  `json:"productRef" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	Quantity   int     `json:"quantity" validate:"gt=0"`
	UnitPrice  float64 `json:"unitPrice" validate:"gte=0"`
	Mode       string  `json:"mode" validate:"omitempty,oneof=buy rent"`
}

// CatalogOrderInput is the JSON body of a catalog order request
type CatalogOrderInput struct {
	FullName         string             `json:"fullName" validate:"required"`
	Email            string             `json:"email" validate:"required,email"`
	Phone            string             `json:"phone" validate:"required"`
	Address          *string            `json:"address"`
	City             string             `json:"city"`
	State            *string            `json:"state"`
	Items            []CatalogItemInput `json:"items" validate:"required,min=1,dive"`
	DeliveryOption   *string            `json:"deliveryOption" validate:"omitempty,oneof=pickup delivery"`
	DeliveryAddress  *string            `json:"deliveryAddress"`
	Notes            *string            `json:"notes"`
	PaymentReference *string            `json:"paymentReference"`
}

// OrderPatch is a decoded, allow-listed order update
type OrderPatch struct {
	Status               *string    `json:"status"`
	Trigger              *string    `json:"trigger"`
	FullName             *string    `json:"fullName" validate:"omitempty,min=1"`
	Email                *string    `json:"email" validate:"omitempty,email"`
	Phone                *string    `json:"phone"`
	Address              *string    `json:"address"`
	City                 *string    `json:"city"`
	State                *string    `json:"state"`
	DeliveryOption       *string    `json:"deliveryOption" validate:"omitempty,oneof=pickup delivery"`
	DeliveryAddress      *string    `json:"deliveryAddress"`
	ProposedDeliveryDate *time.Time `json:"proposedDeliveryDate"`
	Notes                *string    `json:"notes"`
	Version              *int       `json:"version"`
}

// OrderFilter narrows an order listing
type OrderFilter struct {
	Kind    string
	Status  string
	Handler string
}

// OrderService creates, reads, updates and soft-deletes orders
type OrderService struct {
	db      *gorm.DB
	images  ImageService
	vatRate float64
	now     func() time.Time
}

// NewOrderService creates an order service. images may be nil when storage is not configured.
func NewOrderService(db *gorm.DB, images ImageService, vatRate float64) *OrderService {
	return &OrderService{db: db, images: images, vatRate: vatRate, now: time.Now}
}

// NewOrderNumber returns a prefixed order number with 8 upper-case hex characters
func NewOrderNumber(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(hex[:8])
}

// CreateCustomOrder validates the request, uploads the design images and stores the order
func (s *OrderService) CreateCustomOrder(ctx context.Context, in CustomOrderInput, files []*multipart.FileHeader) (*models.Order, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := utils.ValidateDesignImages(files); err != nil {
		return nil, err
	}
	if len(files) > 0 && s.images == nil {
		return nil, ErrStorageDisabled
	}

	orderNumber := NewOrderNumber(customOrderPrefix)

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key, err := s.images.UploadImage(ctx, file, orderNumber)
		if err != nil {
			s.discardImages(ctx, keys)
			return nil, err
		}
		keys = append(keys, key)
	}

	order := models.Order{
		Kind:           models.KindCustom,
		FullName:       strings.TrimSpace(in.FullName),
		Email:          strings.TrimSpace(in.Email),
		Phone:          strings.TrimSpace(in.Phone),
		Address:        in.Address,
		City:           strings.TrimSpace(in.City),
		State:          in.State,
		Description:    strings.TrimSpace(in.Description),
		Quantity:       in.Quantity,
		Status:         workflow.StatusPending,
		CurrentHandler: workflow.HandlerProduction,
		IsActive:       true,
		Version:        1,
	}
	for i, key := range keys {
		order.Images = append(order.Images, models.OrderImage{Position: i, S3Key: key})
	}

	err := s.createWithNumber(ctx, &order, orderNumber, customOrderPrefix, func(tx *gorm.DB) error {
		return EnqueueOrderEmail(tx, NotifyReceived, &order, EmailData{})
	})
	if err != nil {
		s.discardImages(ctx, keys)
		return nil, err
	}

	slog.Info("custom order created", "order_number", order.OrderNumber, "designs", len(keys))
	return s.Get(ctx, order.ID.String())
}

// CreateCatalogOrder prices the item lines and stores a catalog order
func (s *OrderService) CreateCatalogOrder(ctx context.Context, in CatalogOrderInput) (*models.Order, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, 0, len(in.Items))
	items := make([]models.OrderItem, 0, len(in.Items))
	quantity := 0
	for i, item := range in.Items {
		mode := item.Mode
		if mode == "" {
			mode = models.ModeBuy
		}
		lines = append(lines, pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
		items = append(items, models.OrderItem{
			Position:   i,
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Mode:       mode,
		})
		quantity += item.Quantity
	}

	b, err := pricing.CalculateItems(lines, s.vatRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	order := models.Order{
		Kind:                  models.KindCatalog,
		FullName:              strings.TrimSpace(in.FullName),
		Email:                 strings.TrimSpace(in.Email),
		Phone:                 strings.TrimSpace(in.Phone),
		Address:               in.Address,
		City:                  strings.TrimSpace(in.City),
		State:                 in.State,
		Items:                 items,
		Quantity:              quantity,
		Subtotal:              b.Subtotal,
		DiscountPercentage:    b.DiscountPercentage,
		DiscountAmount:        b.DiscountAmount,
		SubtotalAfterDiscount: b.SubtotalAfterDiscount,
		VAT:                   b.VAT,
		Total:                 b.Total,
		PriceFinal:            true,
		Status:                workflow.StatusPending,
		CurrentHandler:        workflow.HandlerProduction,
		DeliveryOption:        in.DeliveryOption,
		DeliveryAddress:       in.DeliveryAddress,
		Notes:                 in.Notes,
		PaymentReference:      in.PaymentReference,
		IsActive:              true,
		Version:               1,
	}

	if err := s.createWithNumber(ctx, &order, NewOrderNumber(catalogOrderPrefix), catalogOrderPrefix, nil); err != nil {
		return nil, err
	}

	slog.Info("catalog order created", "order_number", order.OrderNumber, "total", order.Total)
	return s.Get(ctx, order.ID.String())
}

// createWithNumber inserts order in a transaction, drawing a fresh order number
// when the first one collides with an existing order
func (s *OrderService) createWithNumber(ctx context.Context, order *models.Order, number, prefix string, after func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		if attempt > 0 {
			number = NewOrderNumber(prefix)
			order.ID = uuid.Nil
		}
		order.OrderNumber = number

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(order).Error; err != nil {
				return err
			}
			if after != nil {
				return after(tx)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			lastErr = err
			continue
		}
		return fmt.Errorf("create order: %w", err)
	}
	return fmt.Errorf("create order: %w", lastErr)
}

func (s *OrderService) discardImages(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.images.DeleteImage(ctx, key); err != nil {
			slog.Warn("failed to remove orphaned design image", "key", key, "error", err)
		}
	}
}

// Get loads an active order with its items and design URLs
func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	orderID, err := ParseOrderID(id)
	if err != nil {
		return nil, err
	}

	var order models.Order
	err = s.preload(s.db.WithContext(ctx)).
		Where("id = ? AND is_active = ?", orderID, true).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	s.resolveDesigns(ctx, &order)
	return &order, nil
}

// GetByNumber loads an active order by its order number
func (s *OrderService) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.preload(s.db.WithContext(ctx)).
		Where("order_number = ? AND is_active = ?", strings.TrimSpace(orderNumber), true).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	s.resolveDesigns(ctx, &order)
	return &order, nil
}

// List returns active orders, newest first
func (s *OrderService) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := s.preload(s.db.WithContext(ctx)).Where("is_active = ?", true)

	if filter.Kind != "" {
		if filter.Kind != models.KindCatalog && filter.Kind != models.KindCustom {
			return nil, fmt.Errorf("%w: kind must be catalog or custom", ErrValidation)
		}
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		status, err := workflow.Normalize(filter.Status)
		if err != nil {
			return nil, err
		}
		query = query.Where("status = ?", status)
	}
	if filter.Handler != "" {
		handler := workflow.Handler(strings.ToLower(filter.Handler))
		if handler != workflow.HandlerProduction && handler != workflow.HandlerLogistics {
			return nil, fmt.Errorf("%w: handler must be production or logistics", ErrValidation)
		}
		query = query.Where("current_handler = ?", handler)
	}

	orders := []models.Order{}
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	for i := range orders {
		s.resolveDesigns(ctx, &orders[i])
	}
	return orders, nil
}

// DesignURL returns a fresh URL for the design image at position
func (s *OrderService) DesignURL(ctx context.Context, id string, position int) (string, error) {
	if s.images == nil {
		return "", ErrStorageDisabled
	}

	order, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	for _, image := range order.Images {
		if image.Position == position {
			return s.images.GetImageURL(ctx, image.S3Key)
		}
	}
	return "", ErrDesignNotFound
}

// Update applies an allow-listed PATCH body to any active order
func (s *OrderService) Update(ctx context.Context, id string, body []byte) (*models.Order, error) {
	return s.update(ctx, id, "", body, orderPatchFields)
}

// UpdateCustomStatus applies a status-only PATCH body to an active custom order
func (s *OrderService) UpdateCustomStatus(ctx context.Context, id string, body []byte) (*models.Order, error) {
	return s.update(ctx, id, models.KindCustom, body, statusPatchFields)
}

// DecodePatch parses a PATCH body, rejecting fields outside allowed
func DecodePatch(body []byte, allowed map[string]bool) (OrderPatch, error) {
	var patch OrderPatch

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return patch, fmt.Errorf("%w: request body must be a JSON object", ErrValidation)
	}
	if len(raw) == 0 {
		return patch, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !allowed[key] {
			return patch, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
	}

	if err := json.Unmarshal(body, &patch); err != nil {
		return patch, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if patch.Status != nil && patch.Trigger != nil {
		return patch, fmt.Errorf("%w: send either status or trigger, not both", ErrValidation)
	}
	if err := validateStruct(patch); err != nil {
		return patch, err
	}
	return patch, nil
}

func (s *OrderService) update(ctx context.Context, id, kind string, body []byte, allowed map[string]bool) (*models.Order, error) {
	orderID, err := ParseOrderID(id)
	if err != nil {
		return nil, err
	}
	patch, err := DecodePatch(body, allowed)
	if err != nil {
		return nil, err
	}

	var transitioned bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadActiveOrder(tx, orderID, kind)
		if err != nil {
			return err
		}
		if patch.Version != nil && *patch.Version != order.Version {
			return ErrVersionConflict
		}

		updates, effect, err := s.changesFor(order, patch)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}

		if err := writeOrder(tx, order, updates); err != nil {
			return err
		}
		transitioned = updates["status"] != nil

		if effect.Notify == "" {
			return nil
		}
		if err := tx.First(order, "id = ?", order.ID).Error; err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		return EnqueueOrderEmail(tx, effect.Notify, order, EmailData{})
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		slog.Info("order status updated", "order_id", orderID)
	}
	return s.Get(ctx, orderID.String())
}

// changesFor turns a patch into column updates and the transition's effect
func (s *OrderService) changesFor(order *models.Order, patch OrderPatch) (map[string]interface{}, workflow.Effect, error) {
	updates := map[string]interface{}{}
	var effect workflow.Effect

	trigger, err := resolveTrigger(order.Status, patch)
	if err != nil {
		return nil, effect, err
	}
	if trigger != "" {
		to, err := workflow.Transition(order.Status, trigger)
		if err != nil {
			return nil, effect, err
		}
		updates["status"] = to
		effect = workflow.Effects(trigger)
		if effect.Handoff {
			updates["current_handler"] = workflow.HandlerLogistics
			if order.HandoffAt == nil {
				updates["handoff_at"] = s.now()
			}
		}
	}

	setString := func(column string, v *string) {
		if v != nil {
			updates[column] = strings.TrimSpace(*v)
		}
	}
	setString("full_name", patch.FullName)
	setString("email", patch.Email)
	setString("phone", patch.Phone)
	setString("address", patch.Address)
	setString("city", patch.City)
	setString("state", patch.State)
	setString("delivery_option", patch.DeliveryOption)
	setString("delivery_address", patch.DeliveryAddress)
	setString("notes", patch.Notes)
	if patch.ProposedDeliveryDate != nil {
		updates["proposed_delivery_date"] = *patch.ProposedDeliveryDate
	}

	return updates, effect, nil
}

// resolveTrigger picks the trigger named by the patch. A target status equal
// to the current one resolves to no trigger.
func resolveTrigger(current workflow.Status, patch OrderPatch) (workflow.Trigger, error) {
	if patch.Trigger != nil {
		return workflow.ParseTrigger(*patch.Trigger)
	}
	if patch.Status == nil {
		return "", nil
	}
	target, err := workflow.Normalize(*patch.Status)
	if err != nil {
		return "", err
	}
	if target == current {
		return "", nil
	}
	return workflow.TriggerFor(current, target)
}

// Delete soft-deletes any active order
func (s *OrderService) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id, "", false)
}

// DeleteCustomOrder soft-deletes an active custom order and emails the customer
func (s *OrderService) DeleteCustomOrder(ctx context.Context, id string) error {
	return s.remove(ctx, id, models.KindCustom, true)
}

func (s *OrderService) remove(ctx context.Context, id, kind string, notify bool) error {
	orderID, err := ParseOrderID(id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadActiveOrder(tx, orderID, kind)
		if err != nil {
			return err
		}
		if err := writeOrder(tx, order, map[string]interface{}{"is_active": false}); err != nil {
			return err
		}
		if err := tx.Delete(order).Error; err != nil {
			return fmt.Errorf("soft delete order: %w", err)
		}
		if notify && !workflow.IsTerminal(order.Status) {
			return EnqueueOrderEmail(tx, workflow.NotifyCancelled, order, EmailData{})
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("order deleted", "order_id", orderID)
	return nil
}

func (s *OrderService) preload(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
}

// resolveDesigns fills DesignURLs in upload order. Images that cannot be
// presigned are skipped.
func (s *OrderService) resolveDesigns(ctx context.Context, order *models.Order) {
	if s.images == nil || len(order.Images) == 0 {
		return
	}

	urls := make([]string, 0, len(order.Images))
	for _, image := range order.Images {
		url, err := s.images.GetImageURL(ctx, image.S3Key)
		if err != nil {
			slog.Warn("failed to presign design image", "order_number", order.OrderNumber, "key", image.S3Key, "error", err)
			continue
		}
		urls = append(urls, url)
	}

	order.DesignURLs = urls
	if len(urls) > 0 {
		order.DesignURL = &urls[0]
	}
}

// loadActiveOrder reads an order inside tx, optionally requiring a kind
func loadActiveOrder(tx *gorm.DB, id uuid.UUID, kind string) (*models.Order, error) {
	query := tx.Where("id = ? AND is_active = ?", id, true)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var order models.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &order, nil
}

// writeOrder applies updates guarded by the order's version and bumps it.
// The in-memory order is refreshed with the new version.
func writeOrder(tx *gorm.DB, order *models.Order, updates map[string]interface{}) error {
	updates["version"] = order.Version + 1

	res := tx.Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	order.Version++
	return nil
}
