package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/shopspring/decimal"
)

var (
	ErrOutOfStock        = errors.New("variant out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLineNotFound      = errors.New("cart line not found")
	ErrInvalidLine       = errors.New("invalid cart line")
)

// Line is one cart entry. UnitPrice and Available are captured when the line
// is created and never change afterwards.
type Line struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	CostPrice decimal.Decimal `json:"costPrice"`
	Available int             `json:"availableQuantity"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Profit is the line's gross margin before sale-level discount and tax.
func (l Line) Profit() decimal.Decimal {
	return l.UnitPrice.Sub(l.CostPrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func LineID(productID, variantID string) string {
	return productID + ":" + variantID
}

// Ledger is the working set of lines for one sale, in insertion order.
type Ledger struct {
	mu    sync.RWMutex
	lines []Line
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// AddVariant adds one unit. An existing line for the variant is incremented
// instead of duplicated.
func (l *Ledger) AddVariant(p catalog.Product, v catalog.Variant) (Line, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := LineID(p.ID, v.ID)
	if l.index(id) >= 0 {
		return l.increment(id, 1)
	}
	if v.Quantity <= 0 {
		return Line{}, fmt.Errorf("%s: %w", v.ID, ErrOutOfStock)
	}
	sku := v.SKU
	if sku == "" {
		sku = p.SKU
	}
	ln := Line{
		ID:        id,
		ProductID: p.ID,
		VariantID: v.ID,
		Name:      p.DisplayName(v),
		SKU:       sku,
		Quantity:  1,
		UnitPrice: v.Price,
		CostPrice: v.CostPrice,
		Available: v.Quantity,
	}
	mustValid(ln)
	l.lines = append(l.lines, ln)
	return ln, nil
}

// Increment moves a line's quantity by delta within [0, Available]. An
// increase that does not fit is rejected whole. A line that reaches zero is
// removed and returned with Quantity 0.
func (l *Ledger) Increment(lineID string, delta int) (Line, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.increment(lineID, delta)
}

func (l *Ledger) increment(lineID string, delta int) (Line, error) {
	i := l.index(lineID)
	if i < 0 {
		return Line{}, fmt.Errorf("%s: %w", lineID, ErrLineNotFound)
	}
	ln := l.lines[i]
	next := ln.Quantity + delta
	if delta > 0 && next > ln.Available {
		return ln, &StockError{LineID: lineID, Requested: next, Available: ln.Available}
	}
	if next <= 0 {
		l.lines = append(l.lines[:i], l.lines[i+1:]...)
		ln.Quantity = 0
		return ln, nil
	}
	ln.Quantity = next
	mustValid(ln)
	l.lines[i] = ln
	return ln, nil
}

// Remove deletes a line. Removing an unknown line is a no-op.
func (l *Ledger) Remove(lineID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(lineID); i >= 0 {
		l.lines = append(l.lines[:i], l.lines[i+1:]...)
	}
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}

// Lines returns a copy in insertion order.
func (l *Ledger) Lines() []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *Ledger) Line(lineID string) (Line, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.index(lineID); i >= 0 {
		return l.lines[i], true
	}
	return Line{}, false
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

func (l *Ledger) IsEmpty() bool { return l.Len() == 0 }

func (l *Ledger) Snapshot() []Line { return l.Lines() }

// Restore replaces the ledger with lines taken from a snapshot. Stock is not
// re-checked against the catalog; the lines only have to be self-consistent.
func (l *Ledger) Restore(lines []Line) error {
	seen := make(map[string]bool, len(lines))
	out := make([]Line, 0, len(lines))
	for _, ln := range lines {
		if ln.ID == "" {
			ln.ID = LineID(ln.ProductID, ln.VariantID)
		}
		switch {
		case ln.ProductID == "" || ln.VariantID == "":
			return fmt.Errorf("line %q missing product or variant: %w", ln.ID, ErrInvalidLine)
		case ln.ID != LineID(ln.ProductID, ln.VariantID):
			return fmt.Errorf("line %q id mismatch: %w", ln.ID, ErrInvalidLine)
		case ln.Quantity < 1 || ln.Quantity > ln.Available:
			return fmt.Errorf("line %q quantity %d outside [1,%d]: %w", ln.ID, ln.Quantity, ln.Available, ErrInvalidLine)
		case ln.UnitPrice.IsNegative():
			return fmt.Errorf("line %q negative price: %w", ln.ID, ErrInvalidLine)
		case ln.CostPrice.IsNegative():
			return fmt.Errorf("line %q negative cost: %w", ln.ID, ErrInvalidLine)
		case seen[ln.ID]:
			return fmt.Errorf("line %q duplicated: %w", ln.ID, ErrInvalidLine)
		}
		seen[ln.ID] = true
		out = append(out, ln)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = out
	return nil
}

func (l *Ledger) index(lineID string) int {
	for i := range l.lines {
		if l.lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func mustValid(ln Line) {
	if ln.Quantity < 1 || ln.Quantity > ln.Available {
		panic(fmt.Sprintf("cart: line %s quantity %d outside [1,%d]", ln.ID, ln.Quantity, ln.Available))
	}
}

// StockError reports an increase that would exceed the captured stock.
type StockError struct {
	LineID    string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("line %s: requested %d, available %d: %s", e.LineID, e.Requested, e.Available, ErrInsufficientStock)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }
