package draft

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrDraftNotFound = errors.New("draft not found")
	ErrEmptyDraft    = errors.New("nothing to save: cart is empty")
)

// Draft is a named snapshot of an unfinished sale.
type Draft struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CartLines     []cart.Line     `json:"cartLines"`
	DiscountType  pricing.Kind    `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	CustomerID    string          `json:"customerId"`
	Notes         string          `json:"notes"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (d Draft) Discount() pricing.Discount {
	return pricing.Discount{Kind: d.DiscountType, Value: d.DiscountValue}
}

// Store keeps drafts per terminal. List returns newest first.
type Store interface {
	Put(ctx context.Context, terminal string, d Draft) error
	Get(ctx context.Context, terminal, id string) (Draft, error)
	Delete(ctx context.Context, terminal, id string) error
	List(ctx context.Context, terminal string) ([]Draft, error)
}

// Manager saves and restores drafts for one terminal. It never touches the
// commit path.
type Manager struct {
	store    Store
	terminal string
	now      func() time.Time
}

func NewManager(store Store, terminal string) *Manager {
	return &Manager{store: store, terminal: terminal, now: time.Now}
}

func (m *Manager) SaveDraft(ctx context.Context, name string, lines []cart.Line, d pricing.Discount, customerID, notes string) (Draft, error) {
	if len(lines) == 0 {
		return Draft{}, ErrEmptyDraft
	}
	ts := m.now().UTC()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Draft " + ts.Format("2006-01-02 15:04")
	}
	dr := Draft{
		ID:            uuid.NewString(),
		Name:          name,
		CartLines:     append([]cart.Line(nil), lines...),
		DiscountType:  d.Kind,
		DiscountValue: d.Value,
		CustomerID:    customerID,
		Notes:         notes,
		Timestamp:     ts,
	}
	if err := m.store.Put(ctx, m.terminal, dr); err != nil {
		return Draft{}, err
	}
	return dr, nil
}

// LoadDraft returns the snapshot as saved. Stock is not re-validated.
func (m *Manager) LoadDraft(ctx context.Context, id string) (Draft, error) {
	return m.store.Get(ctx, m.terminal, id)
}

func (m *Manager) DeleteDraft(ctx context.Context, id string) error {
	return m.store.Delete(ctx, m.terminal, id)
}

func (m *Manager) ListDrafts(ctx context.Context) ([]Draft, error) {
	return m.store.List(ctx, m.terminal)
}
