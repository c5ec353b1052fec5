package pricing

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

var ErrInvalidDiscount = errors.New("invalid discount")

var hundred = decimal.NewFromInt(100)

// Discount is the operator's discount setting. The zero value means no
// discount.
type Discount struct {
	Kind  Kind            `json:"type"`
	Value decimal.Decimal `json:"value"`
}

func (d Discount) IsZero() bool { return d.Value.IsZero() }

// Validate checks operator input. Compute itself accepts any Discount and
// clamps.
func (d Discount) Validate() error {
	switch d.Kind {
	case KindPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s outside 0-100", ErrInvalidDiscount, d.Value)
		}
	case KindFixed:
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrInvalidDiscount, d.Value)
		}
	case "":
		if !d.Value.IsZero() {
			return fmt.Errorf("%w: value without type", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, d.Kind)
	}
	return nil
}

type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Taxable    decimal.Decimal `json:"taxable"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// Compute derives the totals for lines. taxRate is a percentage and is
// applied after the discount. Discount and tax are rounded to cents.
func Compute(lines []cart.Line, d Discount, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, ln := range lines {
		subtotal = subtotal.Add(ln.Total())
	}

	discount := decimal.Zero
	switch d.Kind {
	case KindPercentage:
		discount = subtotal.Mul(d.Value).Div(hundred).Round(2)
	case KindFixed:
		discount = d.Value.Round(2)
	}
	discount = clamp(discount, decimal.Zero, subtotal)

	taxable := subtotal.Sub(discount)
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}
	tax := taxable.Mul(taxRate).Div(hundred).Round(2)

	return Totals{
		Subtotal:   subtotal,
		Discount:   discount,
		Taxable:    taxable,
		Tax:        tax,
		GrandTotal: taxable.Add(tax),
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
