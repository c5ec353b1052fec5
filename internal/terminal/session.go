package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/draft"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseReady           Phase = "ready"
	PhaseAwaitingVariant Phase = "awaiting_variant_choice"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseSubmitting      Phase = "submitting"
)

var (
	ErrNoPendingChoice = errors.New("no variant choice pending")
	ErrNothingToRetry  = errors.New("no failed commit to retry")
	ErrDraftsDisabled  = errors.New("draft store not configured")
)

// Session is one terminal's in-progress sale. Every operation runs under the
// session lock, except that a commit releases it while the persister works;
// in that window mutations fail with checkout.ErrCommitInProgress.
type Session struct {
	id             string
	resolver       *catalog.Resolver
	reconciler     *payment.Reconciler
	committer      *checkout.Committer
	drafts         *draft.Manager
	taxRate        decimal.Decimal
	catalogTimeout time.Duration
	log            *zap.Logger

	mu         sync.Mutex
	ledger     *cart.Ledger
	phase      Phase
	pending    *catalog.Resolution
	discount   pricing.Discount
	customerID string
	notes      string
	settlement payment.Settlement
	soldBy     string
	draftID    string
	lastErr    string
	lastSale   *checkout.Sale
}

// View is what a UI renders for a terminal.
type View struct {
	Terminal    string            `json:"terminal"`
	Phase       Phase             `json:"phase"`
	Lines       []cart.Line       `json:"lines"`
	Totals      pricing.Totals    `json:"totals"`
	Discount    pricing.Discount  `json:"discount"`
	CustomerID  string            `json:"customerId"`
	Notes       string            `json:"notes"`
	Choices     []catalog.Variant `json:"choices,omitempty"`
	ChoiceFor   string            `json:"choiceFor,omitempty"`
	CommitState checkout.State    `json:"commitState"`
	Tendered    []payment.Tender  `json:"tendered,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	DraftID     string            `json:"draftId,omitempty"`
	LastSale    *checkout.Sale    `json:"lastSale,omitempty"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) view() View {
	lines := s.ledger.Lines()
	v := View{
		Terminal:    s.id,
		Phase:       s.phase,
		Lines:       lines,
		Totals:      pricing.Compute(lines, s.discount, s.taxRate),
		Discount:    s.discount,
		CustomerID:  s.customerID,
		Notes:       s.notes,
		CommitState: s.committer.State(),
		LastError:   s.lastErr,
		DraftID:     s.draftID,
		LastSale:    s.lastSale,
	}
	if s.pending != nil {
		v.Choices = s.pending.Choices
		v.ChoiceFor = s.pending.Product.ID
	}
	if s.settlement.Accepted() {
		v.Tendered = s.settlement.Payments()
	}
	return v
}

func (s *Session) Totals() pricing.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.Compute(s.ledger.Lines(), s.discount, s.taxRate)
}

// SelectProduct adds a product picked from the catalog, or asks for a variant.
func (s *Session) SelectProduct(ctx context.Context, productID string) (View, error) {
	return s.resolveAndAdd(ctx, func(ctx context.Context) (catalog.Resolution, error) {
		return s.resolver.ResolveProduct(ctx, productID)
	})
}

// Scan adds whatever a scanned code resolves to, or asks for a variant.
func (s *Session) Scan(ctx context.Context, code string) (View, error) {
	return s.resolveAndAdd(ctx, func(ctx context.Context) (catalog.Resolution, error) {
		return s.resolver.ResolveByCode(ctx, code)
	})
}

func (s *Session) resolveAndAdd(ctx context.Context, resolve func(context.Context) (catalog.Resolution, error)) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}

	cctx, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()
	res, err := resolve(cctx)
	if err != nil {
		return s.view(), err
	}
	if res.NeedsChoice() {
		s.pending = &res
		s.phase = PhaseAwaitingVariant
		return s.view(), nil
	}
	if err := s.add(res.Product, *res.Variant); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (s *Session) ChooseVariant(variantID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	if s.pending == nil {
		return s.view(), ErrNoPendingChoice
	}
	v, err := s.resolver.Choose(*s.pending, variantID)
	if err != nil {
		return s.view(), err
	}
	if err := s.add(s.pending.Product, v); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (s *Session) CancelChoice() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseAwaitingVariant {
		s.pending = nil
		s.phase = PhaseReady
	}
	return s.view()
}

func (s *Session) add(p catalog.Product, v catalog.Variant) error {
	if _, err := s.ledger.AddVariant(p, v); err != nil {
		return err
	}
	s.pending = nil
	s.cartChanged()
	return nil
}

func (s *Session) Increment(lineID string, delta int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	if _, err := s.ledger.Increment(lineID, delta); err != nil {
		return s.view(), err
	}
	s.cartChanged()
	return s.view(), nil
}

func (s *Session) Remove(lineID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	s.ledger.Remove(lineID)
	s.cartChanged()
	return s.view(), nil
}

func (s *Session) SetDiscount(d pricing.Discount) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	if err := d.Validate(); err != nil {
		return s.view(), err
	}
	s.discount = d
	s.cartChanged()
	return s.view(), nil
}

func (s *Session) SetCustomer(customerID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	s.customerID = strings.TrimSpace(customerID)
	return s.view(), nil
}

func (s *Session) SetNotes(notes string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	s.notes = notes
	return s.view(), nil
}

// Abandon drops the in-progress sale: cart, discount, customer, notes and any
// tendered payments.
func (s *Session) Abandon() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	s.ledger.Clear()
	s.resetSale()
	_ = s.committer.Reset()
	return s.view(), nil
}

// BeginPayment freezes nothing; it reports the amount due and moves the
// terminal into the payment step.
func (s *Session) BeginPayment() (pricing.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return pricing.Totals{}, err
	}
	if s.ledger.IsEmpty() {
		return pricing.Totals{}, checkout.ErrEmptyCart
	}
	s.pending = nil
	s.phase = PhaseAwaitingPayment
	return pricing.Compute(s.ledger.Lines(), s.discount, s.taxRate), nil
}

// Checkout reconciles tenders against the current total and commits. A
// shortfall is rejected before anything is sent.
func (s *Session) Checkout(ctx context.Context, tenders []payment.Tender, soldBy string) (*checkout.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return nil, err
	}
	if s.ledger.IsEmpty() {
		return nil, checkout.ErrEmptyCart
	}
	totals := pricing.Compute(s.ledger.Lines(), s.discount, s.taxRate)
	if s.resubmission(tenders, totals) {
		// same sale sent again after a failure: keep the accepted tenders
		// and operator so the attempt id does not change
		return s.commit(ctx, totals)
	}
	st, err := s.reconciler.Accept(tenders, totals.GrandTotal)
	if err != nil {
		s.phase = PhaseAwaitingPayment
		return nil, err
	}
	s.settlement = st
	s.soldBy = soldBy
	return s.commit(ctx, totals)
}

func (s *Session) resubmission(tenders []payment.Tender, totals pricing.Totals) bool {
	return s.committer.State() == checkout.StateFailed &&
		s.settlement.Accepted() &&
		s.settlement.GrandTotal().Equal(totals.GrandTotal) &&
		s.settlement.SameTenders(tenders)
}

// Retry resubmits the sale after a failed commit with the tenders already
// accepted.
func (s *Session) Retry(ctx context.Context) (*checkout.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return nil, err
	}
	if s.committer.State() != checkout.StateFailed || !s.settlement.Accepted() {
		return nil, ErrNothingToRetry
	}
	return s.commit(ctx, pricing.Compute(s.ledger.Lines(), s.discount, s.taxRate))
}

// commit is called and returns with s.mu held.
func (s *Session) commit(ctx context.Context, totals pricing.Totals) (*checkout.Sale, error) {
	order := checkout.Order{
		Ledger:     s.ledger,
		Totals:     totals,
		Discount:   s.discount,
		Settlement: s.settlement,
		CustomerID: s.customerID,
		SoldBy:     s.soldBy,
		Notes:      s.notes,
	}
	s.pending = nil
	s.phase = PhaseSubmitting
	s.mu.Unlock()
	sale, err := s.committer.Commit(ctx, order)
	s.mu.Lock()

	if err != nil {
		s.phase = PhaseAwaitingPayment
		s.lastErr = err.Error()
		return nil, err
	}
	if s.drafts != nil && s.draftID != "" {
		if err := s.drafts.DeleteDraft(ctx, s.draftID); err != nil && !errors.Is(err, draft.ErrDraftNotFound) {
			s.log.Warn("delete committed draft", zap.String("terminal", s.id), zap.String("draft_id", s.draftID), zap.Error(err))
		}
	}
	s.resetSale()
	s.lastSale = sale
	return sale, nil
}

func (s *Session) SaveDraft(ctx context.Context, name string) (draft.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts == nil {
		return draft.Draft{}, ErrDraftsDisabled
	}
	if err := s.mutable(); err != nil {
		return draft.Draft{}, err
	}
	d, err := s.drafts.SaveDraft(ctx, name, s.ledger.Snapshot(), s.discount, s.customerID, s.notes)
	if err != nil {
		return draft.Draft{}, err
	}
	s.draftID = d.ID
	return d, nil
}

// LoadDraft replaces the cart, discount, customer and notes with a saved
// snapshot. Captured stock is trusted as saved.
func (s *Session) LoadDraft(ctx context.Context, id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts == nil {
		return s.view(), ErrDraftsDisabled
	}
	if err := s.mutable(); err != nil {
		return s.view(), err
	}
	d, err := s.drafts.LoadDraft(ctx, id)
	if err != nil {
		return s.view(), err
	}
	if err := s.ledger.Restore(d.CartLines); err != nil {
		return s.view(), err
	}
	s.resetSale()
	_ = s.committer.Reset()
	s.discount = d.Discount()
	s.customerID = d.CustomerID
	s.notes = d.Notes
	s.draftID = d.ID
	return s.view(), nil
}

func (s *Session) DeleteDraft(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts == nil {
		return ErrDraftsDisabled
	}
	if err := s.drafts.DeleteDraft(ctx, id); err != nil {
		return err
	}
	if s.draftID == id {
		s.draftID = ""
	}
	return nil
}

func (s *Session) ListDrafts(ctx context.Context) ([]draft.Draft, error) {
	if s.drafts == nil {
		return nil, ErrDraftsDisabled
	}
	return s.drafts.ListDrafts(ctx)
}

func (s *Session) mutable() error {
	if s.phase == PhaseSubmitting {
		return checkout.ErrCommitInProgress
	}
	return nil
}

// cartChanged drops tenders accepted against an old total.
func (s *Session) cartChanged() {
	s.settlement = payment.Settlement{}
	if s.pending == nil {
		s.phase = PhaseReady
	}
}

func (s *Session) resetSale() {
	s.pending = nil
	s.phase = PhaseReady
	s.discount = pricing.Discount{}
	s.customerID = ""
	s.notes = ""
	s.settlement = payment.Settlement{}
	s.soldBy = ""
	s.draftID = ""
	s.lastErr = ""
}
