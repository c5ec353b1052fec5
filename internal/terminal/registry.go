package terminal

import (
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/draft"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Deps struct {
	Resolver   *catalog.Resolver
	Reconciler *payment.Reconciler
	Persister  checkout.Persister
	Publisher  checkout.Publisher
	// DraftStore may be nil; draft operations then fail with ErrDraftsDisabled.
	DraftStore     draft.Store
	TaxRate        decimal.Decimal
	CommitTimeout  time.Duration
	CatalogTimeout time.Duration
	Log            *zap.Logger
}

// Registry hands out one Session per terminal id.
type Registry struct {
	deps     Deps
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(d Deps) *Registry {
	if d.Reconciler == nil {
		d.Reconciler = payment.NewReconciler()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.CatalogTimeout <= 0 {
		d.CatalogTimeout = 3 * time.Second
	}
	return &Registry{deps: d, sessions: map[string]*Session{}}
}

// Session returns the terminal's session, creating an empty one on first use.
func (r *Registry) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := r.newSession(id)
	r.sessions[id] = s
	return s
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) newSession(id string) *Session {
	log := r.deps.Log.With(zap.String("terminal", id))
	opts := []checkout.Option{}
	if r.deps.Publisher != nil {
		opts = append(opts, checkout.WithPublisher(r.deps.Publisher))
	}
	if r.deps.CommitTimeout > 0 {
		opts = append(opts, checkout.WithTimeout(r.deps.CommitTimeout))
	}
	s := &Session{
		id:             id,
		resolver:       r.deps.Resolver,
		reconciler:     r.deps.Reconciler,
		committer:      checkout.NewCommitter(r.deps.Persister, log, opts...),
		taxRate:        r.deps.TaxRate,
		catalogTimeout: r.deps.CatalogTimeout,
		log:            log,
		ledger:         cart.NewLedger(),
		phase:          PhaseReady,
	}
	if r.deps.DraftStore != nil {
		s.drafts = draft.NewManager(r.deps.DraftStore, id)
	}
	return s
}
