package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTender       = errors.New("invalid tender")
	ErrInsufficientPayment = errors.New("insufficient payment")
)

// Tender is one amount offered toward a sale.
type Tender struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Account   string          `json:"account,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// InsufficientPaymentError matches ErrInsufficientPayment.
type InsufficientPaymentError struct {
	Due      decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: due %s, tendered %s", e.Due.StringFixed(2), e.Tendered.StringFixed(2))
}

func (e *InsufficientPaymentError) Is(target error) bool { return target == ErrInsufficientPayment }

func (e *InsufficientPaymentError) Shortfall() decimal.Decimal { return e.Due.Sub(e.Tendered) }

// Settlement is an accepted set of tenders. Only Accept creates one.
type Settlement struct {
	payments   []Tender
	totalPaid  decimal.Decimal
	grandTotal decimal.Decimal
	accepted   bool
}

func (s Settlement) Payments() []Tender {
	out := make([]Tender, len(s.payments))
	copy(out, s.payments)
	return out
}

func (s Settlement) TotalPaid() decimal.Decimal  { return s.totalPaid }
func (s Settlement) GrandTotal() decimal.Decimal { return s.grandTotal }

// Change is what goes back to the customer. It is never stored on the sale.
func (s Settlement) Change() decimal.Decimal {
	if c := s.totalPaid.Sub(s.grandTotal); c.IsPositive() {
		return c
	}
	return decimal.Zero
}

// SameTenders reports whether tenders, once normalized, are the ones this
// settlement accepted. Timestamps are not compared.
func (s Settlement) SameTenders(tenders []Tender) bool {
	if !s.accepted || len(tenders) != len(s.payments) {
		return false
	}
	for i, t := range tenders {
		a, b := canonical(t), s.payments[i]
		if a.Method != b.Method || !a.Amount.Equal(b.Amount) || a.Reference != b.Reference || a.Account != b.Account {
			return false
		}
	}
	return true
}

// Accepted is false for the zero Settlement.
func (s Settlement) Accepted() bool { return s.accepted }

type Reconciler struct {
	now func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{now: time.Now}
}

// NewReconcilerWithClock is for tests that need fixed timestamps.
func NewReconcilerWithClock(now func() time.Time) *Reconciler {
	return &Reconciler{now: now}
}

// Accept validates tenders against grandTotal. Overpayment is kept as
// tendered; only a shortfall is rejected.
func (r *Reconciler) Accept(tenders []Tender, grandTotal decimal.Decimal) (Settlement, error) {
	if len(tenders) == 0 {
		return Settlement{}, fmt.Errorf("%w: no tenders", ErrInvalidTender)
	}
	norm := r.Normalize(tenders)
	paid := decimal.Zero
	for i, t := range norm {
		if t.Method == "" {
			return Settlement{}, fmt.Errorf("%w: tender %d has no method", ErrInvalidTender, i)
		}
		if !t.Amount.IsPositive() {
			return Settlement{}, fmt.Errorf("%w: tender %d amount %s must be > 0", ErrInvalidTender, i, t.Amount)
		}
		paid = paid.Add(t.Amount)
	}
	if paid.LessThan(grandTotal) {
		return Settlement{}, &InsufficientPaymentError{Due: grandTotal, Tendered: paid}
	}
	return Settlement{payments: norm, totalPaid: paid, grandTotal: grandTotal, accepted: true}, nil
}

// Normalize maps tenders to their canonical form: lower-case method, trimmed
// reference and account, and a UTC timestamp (now when unset). One tender
// still yields a one-element slice.
func (r *Reconciler) Normalize(tenders []Tender) []Tender {
	out := make([]Tender, 0, len(tenders))
	now := r.now().UTC()
	for _, t := range tenders {
		c := canonical(t)
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		out = append(out, c)
	}
	return out
}

func canonical(t Tender) Tender {
	return Tender{
		Method:    strings.ToLower(strings.TrimSpace(t.Method)),
		Amount:    t.Amount,
		Reference: strings.TrimSpace(t.Reference),
		Account:   strings.TrimSpace(t.Account),
		Timestamp: t.Timestamp.UTC(),
	}
}
