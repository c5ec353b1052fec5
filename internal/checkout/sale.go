package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/pricing"
	"github.com/shopspring/decimal"
)

const StatusCompleted = "completed"

// MaxSaleTotal bounds a single sale's grand total.
var MaxSaleTotal = decimal.NewFromInt(1_000_000_000)

// Payload is the one message sent to the Persister per commit attempt.
type Payload struct {
	AttemptID    string           `json:"attemptId"`
	CustomerID   string           `json:"customerId"`
	Items        []PayloadItem    `json:"items"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	Discount     decimal.Decimal  `json:"discount"`
	DiscountType string           `json:"discountType"`
	Tax          decimal.Decimal  `json:"tax"`
	Total        decimal.Decimal  `json:"total"`
	Payments     []payment.Tender `json:"payments"`
	TotalPaid    decimal.Decimal  `json:"totalPaid"`
	SoldBy       string           `json:"soldBy"`
	SoldAt       time.Time        `json:"soldAt"`
	Notes        string           `json:"notes"`
}

type PayloadItem struct {
	ProductID  string          `json:"productId"`
	VariantID  string          `json:"variantId"`
	SKU        string          `json:"sku"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CostPrice  decimal.Decimal `json:"costPrice"`
	Profit     decimal.Decimal `json:"profit"`
}

type Receipt struct {
	SaleID     string `json:"saleId"`
	SaleNumber string `json:"saleNumber"`
}

// Persister stores a sale and decrements stock for every item as one unit.
// It must return the original receipt when it sees an AttemptID again.
type Persister interface {
	CommitSale(ctx context.Context, p Payload) (Receipt, error)
}

// Publisher announces committed sales. Failures do not undo the sale.
type Publisher interface {
	PublishSaleCommitted(ctx context.Context, s *Sale) error
}

// Sale is a committed sale. It has no setters.
type Sale struct {
	id         string
	number     string
	attemptID  string
	status     string
	customerID string
	lines      []cart.Line
	totals     pricing.Totals
	discount   pricing.Discount
	payments   []payment.Tender
	totalPaid  decimal.Decimal
	change     decimal.Decimal
	soldBy     string
	soldAt     time.Time
	notes      string
}

func (s *Sale) ID() string { return s.id }
func (s *Sale) Number() string { return s.number }
func (s *Sale) AttemptID() string { return s.attemptID }
func (s *Sale) Status() string { return s.status }
func (s *Sale) CustomerID() string { return s.customerID }
func (s *Sale) Totals() pricing.Totals { return s.totals }
func (s *Sale) Discount() pricing.Discount { return s.discount }
func (s *Sale) TotalPaid() decimal.Decimal { return s.totalPaid }
func (s *Sale) Change() decimal.Decimal { return s.change }
func (s *Sale) SoldBy() string { return s.soldBy }
func (s *Sale) SoldAt() time.Time { return s.soldAt }
func (s *Sale) Notes() string { return s.notes }

func (s *Sale) Lines() []cart.Line {
	out := make([]cart.Line, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Sale) Payments() []payment.Tender {
	out := make([]payment.Tender, len(s.payments))
	copy(out, s.payments)
	return out
}

type saleJSON struct {
	ID         string           `json:"id"`
	Number     string           `json:"saleNumber"`
	AttemptID  string           `json:"attemptId"`
	Status     string           `json:"status"`
	CustomerID string           `json:"customerId"`
	Lines      []cart.Line      `json:"lines"`
	Totals     pricing.Totals   `json:"totals"`
	Discount   pricing.Discount `json:"discountRule"`
	Payments   []payment.Tender `json:"payments"`
	TotalPaid  decimal.Decimal  `json:"totalPaid"`
	Change     decimal.Decimal  `json:"change"`
	SoldBy     string           `json:"soldBy"`
	SoldAt     time.Time        `json:"soldAt"`
	Notes      string           `json:"notes,omitempty"`
}

func (s *Sale) MarshalJSON() ([]byte, error) {
	return json.Marshal(saleJSON{
		ID: s.id, Number: s.number, AttemptID: s.attemptID, Status: s.status,
		CustomerID: s.customerID, Lines: s.lines, Totals: s.totals, Discount: s.discount,
		Payments: s.payments, TotalPaid: s.totalPaid, Change: s.change,
		SoldBy: s.soldBy, SoldAt: s.soldAt, Notes: s.notes,
	})
}
