package cart

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, variants ...catalog.Variant) catalog.Product {
	return catalog.Product{ID: id, Name: "Product " + id, SKU: "SKU-" + id, Variants: variants}
}

func variant(id string, price int64, qty int) catalog.Variant {
	return catalog.Variant{ID: id, Name: id, SKU: "V-" + id, Price: decimal.NewFromInt(price), Quantity: qty, IsActive: true}
}

func TestAddVariant_NewLineCapturesPriceAndStock(t *testing.T) {
	l := NewLedger()
	v := variant("x", 1000, 3)
	v.CostPrice = decimal.NewFromInt(700)
	p := product("p", v)

	ln, err := l.AddVariant(p, v)
	require.NoError(t, err)
	assert.Equal(t, "p:x", ln.ID)
	assert.Equal(t, 1, ln.Quantity)
	assert.Equal(t, 3, ln.Available)
	assert.Equal(t, "Product p - x", ln.Name)
	assert.Equal(t, "V-x", ln.SKU)
	assert.True(t, ln.CostPrice.Equal(decimal.NewFromInt(700)))

	// later catalog changes do not touch the line
	v.Price = decimal.NewFromInt(5)
	v.CostPrice = decimal.NewFromInt(1)
	v.Quantity = 100
	ln, err = l.AddVariant(p, v)
	require.NoError(t, err)
	assert.Equal(t, 2, ln.Quantity)
	assert.True(t, ln.UnitPrice.Equal(decimal.NewFromInt(1000)))
	assert.True(t, ln.CostPrice.Equal(decimal.NewFromInt(700)))
	assert.True(t, ln.Profit().Equal(decimal.NewFromInt(600)))
	assert.Equal(t, 3, ln.Available)
	assert.Equal(t, 1, l.Len())
}

func TestAddVariant_OutOfStock(t *testing.T) {
	l := NewLedger()
	v := variant("x", 1000, 0)
	_, err := l.AddVariant(product("p", v), v)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.True(t, l.IsEmpty())
}

func TestAddVariant_ZeroPriceAllowed(t *testing.T) {
	l := NewLedger()
	v := variant("free", 0, 1)
	ln, err := l.AddVariant(product("p", v), v)
	require.NoError(t, err)
	assert.True(t, ln.Total().IsZero())
}

func TestIncrement(t *testing.T) {
	l := NewLedger()
	v := variant("x", 1000, 3)
	_, err := l.AddVariant(product("p", v), v)
	require.NoError(t, err)

	ln, err := l.Increment("p:x", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, ln.Quantity)

	_, err = l.Increment("p:x", 1)
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 4, se.Requested)
	assert.Equal(t, 3, se.Available)
	got, _ := l.Line("p:x")
	assert.Equal(t, 3, got.Quantity, "rejected increase leaves the line alone")

	ln, err = l.Increment("p:x", -1)
	require.NoError(t, err)
	assert.Equal(t, 2, ln.Quantity)
	assert.True(t, ln.Total().Equal(decimal.NewFromInt(2000)))
}

func TestIncrement_PartialIncreaseRejected(t *testing.T) {
	l := NewLedger()
	v := variant("x", 10, 5)
	_, err := l.AddVariant(product("p", v), v)
	require.NoError(t, err)

	_, err = l.Increment("p:x", 10)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	got, _ := l.Line("p:x")
	assert.Equal(t, 1, got.Quantity)
}

func TestIncrement_ToZeroRemoves(t *testing.T) {
	l := NewLedger()
	v := variant("x", 10, 5)
	_, err := l.AddVariant(product("p", v), v)
	require.NoError(t, err)

	ln, err := l.Increment("p:x", -7)
	require.NoError(t, err)
	assert.Equal(t, 0, ln.Quantity)
	assert.True(t, l.IsEmpty())

	_, err = l.Increment("p:x", 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	l := NewLedger()
	a, b := variant("a", 1, 1), variant("b", 2, 1)
	p := product("p", a, b)
	_, _ = l.AddVariant(p, a)
	_, _ = l.AddVariant(p, b)

	l.Remove("missing")
	assert.Equal(t, 2, l.Len())
	l.Remove("p:a")
	require.Len(t, l.Lines(), 1)
	assert.Equal(t, "p:b", l.Lines()[0].ID)

	l.Clear()
	assert.True(t, l.IsEmpty())
}

func TestLinesReturnsCopies(t *testing.T) {
	l := NewLedger()
	v := variant("x", 10, 5)
	_, _ = l.AddVariant(product("p", v), v)

	lines := l.Lines()
	lines[0].Quantity = 99
	lines[0].UnitPrice = decimal.NewFromInt(1)

	got, _ := l.Line("p:x")
	assert.Equal(t, 1, got.Quantity)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(10)))
}

func TestRestore(t *testing.T) {
	l := NewLedger()
	good := []Line{
		{ProductID: "p", VariantID: "x", Quantity: 2, Available: 3, UnitPrice: decimal.NewFromInt(5)},
	}
	require.NoError(t, l.Restore(good))
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "p:x", l.Lines()[0].ID)

	bad := [][]Line{
		{{ProductID: "p", VariantID: "x", Quantity: 0, Available: 3}},
		{{ProductID: "p", VariantID: "x", Quantity: 4, Available: 3}},
		{{ID: "other", ProductID: "p", VariantID: "x", Quantity: 1, Available: 3}},
		{{ProductID: "p", VariantID: "x", Quantity: 1, Available: 1, UnitPrice: decimal.NewFromInt(-1)}},
		{{ProductID: "p", VariantID: "x", Quantity: 1, Available: 1, CostPrice: decimal.NewFromInt(-1)}},
		{{ProductID: "p", VariantID: "x", Quantity: 1, Available: 1}, {ProductID: "p", VariantID: "x", Quantity: 1, Available: 1}},
		{{VariantID: "x", Quantity: 1, Available: 1}},
	}
	for _, lines := range bad {
		assert.ErrorIs(t, l.Restore(lines), ErrInvalidLine)
	}
	assert.Equal(t, 2, l.Lines()[0].Quantity, "failed restore keeps current lines")
}

// Random add/increment/remove sequences never leave a line outside
// [1, Available].
func TestLedger_QuantityBoundsHoldUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	variants := []catalog.Variant{
		variant("a", 100, 1),
		variant("b", 250, 3),
		variant("c", 75, 7),
		variant("d", 10, 0),
	}
	p := product("p", variants...)

	for run := 0; run < 200; run++ {
		l := NewLedger()
		for step := 0; step < 60; step++ {
			v := variants[rng.Intn(len(variants))]
			id := LineID(p.ID, v.ID)
			switch rng.Intn(4) {
			case 0:
				_, err := l.AddVariant(p, v)
				if err != nil {
					assert.True(t, errorsIsAny(err, ErrOutOfStock, ErrInsufficientStock), err.Error())
				}
			case 1, 2:
				delta := rng.Intn(9) - 4
				_, err := l.Increment(id, delta)
				if err != nil {
					assert.True(t, errorsIsAny(err, ErrLineNotFound, ErrInsufficientStock), err.Error())
				}
			case 3:
				l.Remove(id)
			}
			for _, ln := range l.Lines() {
				require.GreaterOrEqual(t, ln.Quantity, 1)
				require.LessOrEqual(t, ln.Quantity, ln.Available)
			}
		}
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
