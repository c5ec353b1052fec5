package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order is everything a commit needs. The ledger is cleared only after the
// persister confirms the sale.
type Order struct {
	Ledger     *cart.Ledger
	Totals     pricing.Totals
	Discount   pricing.Discount
	Settlement payment.Settlement
	CustomerID string
	SoldBy     string
	Notes      string
}

type attempt struct {
	id          string
	soldAt      time.Time
	fingerprint []byte
}

// Committer submits one sale at a time and owns the commit state.
type Committer struct {
	persister Persister
	publisher Publisher
	log       *zap.Logger
	timeout   time.Duration
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	state   State
	attempt *attempt
	last    *Sale
}

type Option func(*Committer)

func WithPublisher(p Publisher) Option { return func(c *Committer) { c.publisher = p } }

func WithTimeout(d time.Duration) Option { return func(c *Committer) { c.timeout = d } }

func WithClock(now func() time.Time) Option { return func(c *Committer) { c.now = now } }

func WithIDs(newID func() string) Option { return func(c *Committer) { c.newID = newID } }

func NewCommitter(p Persister, log *zap.Logger, opts ...Option) *Committer {
	c := &Committer{
		persister: p,
		log:       log,
		timeout:   10 * time.Second,
		now:       time.Now,
		newID:     uuid.NewString,
		state:     StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Committer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Committer) LastSale() *Sale {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reset returns a committed or failed committer to Idle and forgets the
// pending attempt. It is a no-op while idle and refused while submitting.
func (c *Committer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return nil
	case StateSubmitting:
		return ErrCommitInProgress
	}
	c.transition(StateIdle)
	c.attempt = nil
	return nil
}

// Commit sends the order to the persister once. On failure nothing in the
// order is touched and the same inputs can be committed again; the retry
// carries the same attempt id and sold-at time.
func (c *Committer) Commit(ctx context.Context, o Order) (*Sale, error) {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return nil, ErrCommitInProgress
	}
	lines, err := validate(o)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.state == StateCommitted {
		c.transition(StateIdle)
	}
	p, err := c.payload(o, lines)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.transition(StateSubmitting)
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	receipt, err := c.persister.CommitSale(cctx, p)
	cancel()
	if err == nil && receipt.SaleID == "" {
		err = ErrNoReceipt
	}

	c.mu.Lock()
	if err != nil {
		c.transition(StateFailed)
		c.mu.Unlock()
		c.log.Warn("sale commit failed",
			zap.String("attempt_id", p.AttemptID), zap.String("customer_id", p.CustomerID), zap.Error(err))
		return nil, &CommitError{AttemptID: p.AttemptID, Err: err}
	}
	sale := newSale(receipt, p, lines, o)
	o.Ledger.Clear()
	c.transition(StateCommitted)
	c.attempt = nil
	c.last = sale
	c.mu.Unlock()

	c.log.Info("sale committed",
		zap.String("sale_id", sale.ID()), zap.String("sale_number", sale.Number()),
		zap.String("attempt_id", sale.AttemptID()), zap.String("total", sale.Totals().GrandTotal.StringFixed(2)))
	if c.publisher != nil {
		if err := c.publisher.PublishSaleCommitted(ctx, sale); err != nil {
			c.log.Error("publish sale committed", zap.String("sale_id", sale.ID()), zap.Error(err))
		}
	}
	return sale, nil
}

func validate(o Order) ([]cart.Line, error) {
	if o.Ledger == nil || o.Ledger.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if strings.TrimSpace(o.CustomerID) == "" {
		return nil, ErrMissingCustomer
	}
	lines := o.Ledger.Lines()
	subtotal := decimal.Zero
	for _, ln := range lines {
		subtotal = subtotal.Add(ln.Total())
	}
	if !subtotal.Equal(o.Totals.Subtotal) {
		return nil, ErrStaleTotals
	}
	if !o.Settlement.Accepted() || !o.Settlement.GrandTotal().Equal(o.Totals.GrandTotal) {
		return nil, ErrStaleSettlement
	}
	if o.Totals.GrandTotal.GreaterThan(MaxSaleTotal) {
		return nil, ErrAmountTooLarge
	}
	return lines, nil
}

// payload reuses the pending attempt when the content is unchanged since the
// last failed try, so a retry is byte-identical.
func (c *Committer) payload(o Order, lines []cart.Line) (Payload, error) {
	p := Payload{
		CustomerID:   strings.TrimSpace(o.CustomerID),
		Items:        make([]PayloadItem, 0, len(lines)),
		Subtotal:     o.Totals.Subtotal,
		Discount:     o.Totals.Discount,
		DiscountType: string(o.Discount.Kind),
		Tax:          o.Totals.Tax,
		Total:        o.Totals.GrandTotal,
		Payments:     o.Settlement.Payments(),
		TotalPaid:    o.Settlement.TotalPaid(),
		SoldBy:       o.SoldBy,
		Notes:        o.Notes,
	}
	for _, ln := range lines {
		p.Items = append(p.Items, PayloadItem{
			ProductID:  ln.ProductID,
			VariantID:  ln.VariantID,
			SKU:        ln.SKU,
			Quantity:   ln.Quantity,
			UnitPrice:  ln.UnitPrice,
			TotalPrice: ln.Total(),
			CostPrice:  ln.CostPrice,
			Profit:     ln.Profit(),
		})
	}

	fp, err := json.Marshal(p)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	if c.attempt == nil || !bytes.Equal(c.attempt.fingerprint, fp) {
		c.attempt = &attempt{id: c.newID(), soldAt: c.now().UTC(), fingerprint: fp}
	}
	p.AttemptID = c.attempt.id
	p.SoldAt = c.attempt.soldAt
	return p, nil
}

func (c *Committer) transition(to State) {
	if !CanTransition(c.state, to) {
		panic(fmt.Sprintf("checkout: invalid transition %s -> %s", c.state, to))
	}
	c.state = to
}

func newSale(r Receipt, p Payload, lines []cart.Line, o Order) *Sale {
	return &Sale{
		id:         r.SaleID,
		number:     r.SaleNumber,
		attemptID:  p.AttemptID,
		status:     StatusCompleted,
		customerID: p.CustomerID,
		lines:      lines,
		totals:     o.Totals,
		discount:   o.Discount,
		payments:   p.Payments,
		totalPaid:  p.TotalPaid,
		change:     o.Settlement.Change(),
		soldBy:     p.SoldBy,
		soldAt:     p.SoldAt,
		notes:      p.Notes,
	}
}
