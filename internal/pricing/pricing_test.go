package pricing

import (
	"testing"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleLines() []cart.Line {
	return []cart.Line{
		{ID: "p:x", ProductID: "p", VariantID: "x", Quantity: 2, Available: 5, UnitPrice: d("1000")},
		{ID: "p:y", ProductID: "p", VariantID: "y", Quantity: 1, Available: 5, UnitPrice: d("500")},
	}
}

func assertTotals(t *testing.T, got Totals, sub, disc, taxable, tax, grand string) {
	t.Helper()
	assert.True(t, got.Subtotal.Equal(d(sub)), "subtotal %s", got.Subtotal)
	assert.True(t, got.Discount.Equal(d(disc)), "discount %s", got.Discount)
	assert.True(t, got.Taxable.Equal(d(taxable)), "taxable %s", got.Taxable)
	assert.True(t, got.Tax.Equal(d(tax)), "tax %s", got.Tax)
	assert.True(t, got.GrandTotal.Equal(d(grand)), "grand total %s", got.GrandTotal)
}

func TestCompute_PercentageDiscountThenTax(t *testing.T) {
	got := Compute(sampleLines(), Discount{Kind: KindPercentage, Value: d("10")}, d("18"))
	assertTotals(t, got, "2500", "250", "2250", "405", "2655")
}

func TestCompute_FixedDiscountClampsToSubtotal(t *testing.T) {
	got := Compute(sampleLines(), Discount{Kind: KindFixed, Value: d("3000")}, d("18"))
	assertTotals(t, got, "2500", "2500", "0", "0", "0")
}

func TestCompute_DiscountAlwaysWithinSubtotal(t *testing.T) {
	lines := sampleLines()
	cases := []Discount{
		{},
		{Kind: KindPercentage, Value: d("0")},
		{Kind: KindPercentage, Value: d("100")},
		{Kind: KindPercentage, Value: d("250")},
		{Kind: KindPercentage, Value: d("-5")},
		{Kind: KindFixed, Value: d("-10")},
		{Kind: KindFixed, Value: d("99999999")},
		{Kind: "bogus", Value: d("10")},
	}
	for _, dc := range cases {
		got := Compute(lines, dc, d("18"))
		assert.False(t, got.Discount.IsNegative(), "%+v", dc)
		assert.True(t, got.Discount.LessThanOrEqual(got.Subtotal), "%+v", dc)
		assert.True(t, got.GrandTotal.Equal(got.Taxable.Add(got.Tax)))
	}
}

func TestCompute_Deterministic(t *testing.T) {
	lines := []cart.Line{
		{ID: "a:1", Quantity: 3, Available: 3, UnitPrice: d("19.99")},
		{ID: "b:1", Quantity: 7, Available: 9, UnitPrice: d("0.35")},
	}
	disc := Discount{Kind: KindPercentage, Value: d("12.5")}
	first := Compute(lines, disc, d("7.25"))
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Compute(lines, disc, d("7.25")))
	}
	// 62.42 * 12.5% = 7.8025 -> 7.80; 54.62 * 7.25% = 3.95995 -> 3.96
	assertTotals(t, first, "62.42", "7.80", "54.62", "3.96", "58.58")
}

func TestCompute_EmptyCart(t *testing.T) {
	got := Compute(nil, Discount{Kind: KindFixed, Value: d("50")}, d("18"))
	assertTotals(t, got, "0", "0", "0", "0", "0")
}

func TestDiscountValidate(t *testing.T) {
	assert.NoError(t, Discount{}.Validate())
	assert.NoError(t, Discount{Kind: KindPercentage, Value: d("100")}.Validate())
	assert.NoError(t, Discount{Kind: KindFixed, Value: d("5000")}.Validate())

	assert.ErrorIs(t, Discount{Kind: KindPercentage, Value: d("100.01")}.Validate(), ErrInvalidDiscount)
	assert.ErrorIs(t, Discount{Kind: KindFixed, Value: d("-1")}.Validate(), ErrInvalidDiscount)
	assert.ErrorIs(t, Discount{Kind: "coupon", Value: d("1")}.Validate(), ErrInvalidDiscount)
	assert.ErrorIs(t, Discount{Value: d("1")}.Validate(), ErrInvalidDiscount)
}
