package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// VATRate is the value-added tax applied to the discounted subtotal
const VATRate = 0.075

var (
	ErrNegativePrice   = errors.New("unit price must not be negative")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrNoLines         = errors.New("at least one line is required")
)

// Breakdown is the full price derivation for a quantity of units
type Breakdown struct {
	Subtotal              float64 `json:"subtotal"`
	DiscountPercentage    float64 `json:"discountPercentage"`
	DiscountAmount        float64 `json:"discountAmount"`
	SubtotalAfterDiscount float64 `json:"subtotalAfterDiscount"`
	VAT                   float64 `json:"vat"`
	Total                 float64 `json:"total"`
}

// Line is one priced line of a catalog order
type Line struct {
	UnitPrice float64
	Quantity  int
}

// tier maps a minimum quantity to a bulk discount percentage.
// Ordered from the highest threshold down.
type tier struct {
	minQuantity int
	percentage  int64
}

var discountTiers = []tier{
	{minQuantity: 50, percentage: 20},
	{minQuantity: 20, percentage: 15},
	{minQuantity: 10, percentage: 10},
	{minQuantity: 5, percentage: 5},
}

// DiscountPercentage returns the bulk discount percentage for a quantity
func DiscountPercentage(quantity int) float64 {
	return discountPercentage(quantity).InexactFloat64()
}

func discountPercentage(quantity int) decimal.Decimal {
	for _, t := range discountTiers {
		if quantity >= t.minQuantity {
			return decimal.NewFromInt(t.percentage)
		}
	}
	return decimal.Zero
}

// Calculate prices quantity units at unitPrice using the default VAT rate
func Calculate(unitPrice float64, quantity int) (Breakdown, error) {
	return CalculateWithRate(unitPrice, quantity, VATRate)
}

// CalculateWithRate prices quantity units at unitPrice with the given VAT rate
func CalculateWithRate(unitPrice float64, quantity int, vatRate float64) (Breakdown, error) {
	if unitPrice < 0 {
		return Breakdown{}, ErrNegativePrice
	}
	if quantity <= 0 {
		return Breakdown{}, ErrInvalidQuantity
	}

	subtotal := decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
	return breakdown(subtotal, quantity, vatRate), nil
}

// CalculateItems prices a set of catalog lines. The discount tier is chosen
// from the total quantity across all lines.
func CalculateItems(lines []Line, vatRate float64) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, ErrNoLines
	}

	subtotal := decimal.Zero
	totalQuantity := 0
	for _, line := range lines {
		if line.UnitPrice < 0 {
			return Breakdown{}, ErrNegativePrice
		}
		if line.Quantity <= 0 {
			return Breakdown{}, ErrInvalidQuantity
		}
		subtotal = subtotal.Add(decimal.NewFromFloat(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))))
		totalQuantity += line.Quantity
	}

	return breakdown(subtotal, totalQuantity, vatRate), nil
}

func breakdown(subtotal decimal.Decimal, quantity int, vatRate float64) Breakdown {
	percentage := discountPercentage(quantity)
	discountAmount := subtotal.Mul(percentage).Div(decimal.NewFromInt(100)).Round(2)
	subtotal = subtotal.Round(2)
	afterDiscount := subtotal.Sub(discountAmount)
	vat := afterDiscount.Mul(decimal.NewFromFloat(vatRate)).Round(2)
	total := afterDiscount.Add(vat)

	return Breakdown{
		Subtotal:              subtotal.InexactFloat64(),
		DiscountPercentage:    percentage.InexactFloat64(),
		DiscountAmount:        discountAmount.InexactFloat64(),
		SubtotalAfterDiscount: afterDiscount.InexactFloat64(),
		VAT:                   vat.InexactFloat64(),
		Total:                 total.InexactFloat64(),
	}
}
