package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentVerification is the outcome of verifying a transaction reference
type PaymentVerification struct {
	Reference     string  `json:"reference"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	OrderNumber   string  `json:"orderNumber"`
	InvoiceNumber string  `json:"invoiceNumber"`
}

// paystackVerifyResponse is the subset of GET /transaction/verify/:reference we use
type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"` // kobo
		Currency  string `json:"currency"`
		PaidAt    string `json:"paid_at"`
		Metadata  struct {
			OrderNumber string `json:"orderNumber"`
		} `json:"metadata"`
	} `json:"data"`
}

// PaymentService verifies payments with Paystack and settles the matching order
type PaymentService struct {
	db         *gorm.DB
	httpClient *http.Client
	baseURL    string
	secretKey  string
	now        func() time.Time
}

// NewPaymentService creates a payment service talking to baseURL
func NewPaymentService(db *gorm.DB, baseURL, secretKey string) *PaymentService {
	return &PaymentService{
		db:         db,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		now:        time.Now,
	}
}

// VerifyPayment checks a transaction reference, approves the paid order and
// issues its invoice. Verifying an already settled reference returns the
// existing invoice; a different reference for a paid order fails with ErrAlreadyPaid.
func (s *PaymentService) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrValidation)
	}

	var existing models.Invoice
	err := s.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&existing).Error
	if err == nil {
		return s.settledResult(ctx, &existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	tx, err := s.fetchTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.Data.Status != "success" {
		return nil, fmt.Errorf("%w: transaction status is %s", ErrPaymentFailed, tx.Data.Status)
	}

	amount := decimal.NewFromInt(tx.Data.Amount).Div(decimal.NewFromInt(100))
	result := &PaymentVerification{
		Reference: reference,
		Amount:    amount.InexactFloat64(),
		Status:    tx.Data.Status,
	}

	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		order, err := findPaidOrder(dbtx, reference, tx.Data.Metadata.OrderNumber)
		if err != nil {
			return err
		}
		if order.PaidAt != nil {
			return fmt.Errorf("%w: order %s", ErrAlreadyPaid, order.OrderNumber)
		}
		if !amount.Equal(decimal.NewFromFloat(order.Total).Round(2)) {
			return fmt.Errorf("%w: paid %s, order total %.2f", ErrAmountMismatch, amount.StringFixed(2), order.Total)
		}

		paidAt := s.now()
		updates := map[string]interface{}{
			"payment_reference": reference,
			"paid_at":           paidAt,
		}
		var effect workflow.Effect
		if order.Status == workflow.StatusPending {
			next, err := workflow.Transition(order.Status, workflow.TriggerApprove)
			if err != nil {
				return err
			}
			updates["status"] = next
			effect = workflow.Effects(workflow.TriggerApprove)
		}
		if err := writeOrder(dbtx, order, updates); err != nil {
			return err
		}

		invoice := models.Invoice{
			InvoiceNumber:         "INV-" + order.OrderNumber,
			OrderID:               order.ID,
			PaymentReference:      reference,
			AmountPaid:            result.Amount,
			Subtotal:              order.Subtotal,
			DiscountAmount:        order.DiscountAmount,
			SubtotalAfterDiscount: order.SubtotalAfterDiscount,
			VAT:                   order.VAT,
			Total:                 order.Total,
			IssuedAt:              paidAt,
		}
		if err := dbtx.Create(&invoice).Error; err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		result.OrderNumber = order.OrderNumber
		result.InvoiceNumber = invoice.InvoiceNumber
		if effect.Notify != "" {
			if err := EnqueueOrderEmail(dbtx, effect.Notify, order, EmailData{}); err != nil {
				return err
			}
		}
		return EnqueueOrderEmail(dbtx, NotifyReceipt, order, EmailData{
			Amount:        formatAmount(result.Amount),
			Reference:     reference,
			InvoiceNumber: invoice.InvoiceNumber,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment verified", "reference", reference, "order_number", result.OrderNumber, "amount", result.Amount)
	return result, nil
}

func (s *PaymentService) settledResult(ctx context.Context, invoice *models.Invoice) (*PaymentVerification, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Unscoped().Select("order_number").First(&order, "id = ?", invoice.OrderID).Error; err != nil {
		return nil, fmt.Errorf("load invoiced order: %w", err)
	}
	return &PaymentVerification{
		Reference:     invoice.PaymentReference,
		Amount:        invoice.AmountPaid,
		Status:        "success",
		OrderNumber:   order.OrderNumber,
		InvoiceNumber: invoice.InvoiceNumber,
	}, nil
}

func (s *PaymentService) fetchTransaction(ctx context.Context, reference string) (*paystackVerifyResponse, error) {
	endpoint := s.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	defer resp.Body.Close()

	var body paystackVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPaymentProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, body.Message)
	case resp.StatusCode != http.StatusOK || !body.Status:
		return nil, fmt.Errorf("%w: status %d: %s", ErrPaymentProvider, resp.StatusCode, body.Message)
	}
	return &body, nil
}

// findPaidOrder matches the transaction to an active order by reference, then by order number
func findPaidOrder(tx *gorm.DB, reference, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := tx.Where("payment_reference = ? AND is_active = ?", reference, true).First(&order).Error
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if orderNumber == "" {
		return nil, ErrOrderNotFound
	}

	err = tx.Where("order_number = ? AND is_active = ?", orderNumber, true).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &order, nil
}
