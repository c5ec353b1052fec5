package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-pos-checkout/internal/cart"
	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/draft"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/pricing"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/ariefcatur/go-pos-checkout/internal/terminal"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("invalid json")

// SaleReader looks up committed sales.
type SaleReader interface {
	GetSale(ctx context.Context, saleID string) (sales.StoredSale, error)
}

type POSHandler struct {
	Terminals *terminal.Registry
	Sales     SaleReader // optional
	Log       *zap.Logger
}

type scanReq struct {
	Code string `json:"code"`
}

type choiceReq struct {
	VariantID string `json:"variantId"`
}

type lineReq struct {
	Delta int `json:"delta"`
}

type customerReq struct {
	CustomerID string `json:"customerId"`
}

type notesReq struct {
	Notes string `json:"notes"`
}

type checkoutReq struct {
	Payments []payment.Tender `json:"payments"`
	SoldBy   string           `json:"soldBy"`
}

type draftReq struct {
	Name string `json:"name"`
}

type checkoutResp struct {
	Sale *checkout.Sale `json:"sale"`
	View terminal.View  `json:"view"`
}

func (h *POSHandler) Register(r chi.Router) {
	r.Route("/terminals/{terminal}", func(r chi.Router) {
		r.Get("/", h.view)
		r.Post("/scan", h.scan)
		r.Post("/products/{product}", h.selectProduct)
		r.Post("/choice", h.choose)
		r.Delete("/choice", h.cancelChoice)
		r.Patch("/lines/{line}", h.increment)
		r.Delete("/lines/{line}", h.removeLine)
		r.Put("/discount", h.setDiscount)
		r.Put("/customer", h.setCustomer)
		r.Put("/notes", h.setNotes)
		r.Delete("/cart", h.abandon)
		r.Post("/checkout/begin", h.beginPayment)
		r.Post("/checkout", h.checkout)
		r.Post("/checkout/retry", h.retry)
		r.Post("/drafts", h.saveDraft)
		r.Get("/drafts", h.listDrafts)
		r.Post("/drafts/{draft}/load", h.loadDraft)
		r.Delete("/drafts/{draft}", h.deleteDraft)
	})
	if h.Sales != nil {
		r.Get("/sales/{id}", h.getSale)
	}
}

func (h *POSHandler) session(r *http.Request) *terminal.Session {
	return h.Terminals.Session(chi.URLParam(r, "terminal"))
}

func (h *POSHandler) view(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).View())
}

func (h *POSHandler) scan(w http.ResponseWriter, r *http.Request) {
	var req scanReq
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).Scan(r.Context(), req.Code)
	h.respondView(w, v, err)
}

func (h *POSHandler) selectProduct(w http.ResponseWriter, r *http.Request) {
	v, err := h.session(r).SelectProduct(r.Context(), chi.URLParam(r, "product"))
	h.respondView(w, v, err)
}

func (h *POSHandler) choose(w http.ResponseWriter, r *http.Request) {
	var req choiceReq
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).ChooseVariant(req.VariantID)
	h.respondView(w, v, err)
}

func (h *POSHandler) cancelChoice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).CancelChoice())
}

func (h *POSHandler) increment(w http.ResponseWriter, r *http.Request) {
	var req lineReq
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).Increment(chi.URLParam(r, "line"), req.Delta)
	h.respondView(w, v, err)
}

func (h *POSHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	v, err := h.session(r).Remove(chi.URLParam(r, "line"))
	h.respondView(w, v, err)
}

func (h *POSHandler) setDiscount(w http.ResponseWriter, r *http.Request) {
	var req pricing.Discount
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).SetDiscount(req)
	h.respondView(w, v, err)
}

func (h *POSHandler) setCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerReq
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).SetCustomer(req.CustomerID)
	h.respondView(w, v, err)
}

func (h *POSHandler) setNotes(w http.ResponseWriter, r *http.Request) {
	var req notesReq
	if !decode(w, r, &req) {
		return
	}
	v, err := h.session(r).SetNotes(req.Notes)
	h.respondView(w, v, err)
}

func (h *POSHandler) abandon(w http.ResponseWriter, r *http.Request) {
	v, err := h.session(r).Abandon()
	h.respondView(w, v, err)
}

func (h *POSHandler) beginPayment(w http.ResponseWriter, r *http.Request) {
	totals, err := h.session(r).BeginPayment()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *POSHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	s := h.session(r)
	sale, err := s.Checkout(r.Context(), req.Payments, req.SoldBy)
	h.respondSale(w, s, sale, err)
}

func (h *POSHandler) retry(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	sale, err := s.Retry(r.Context())
	h.respondSale(w, s, sale, err)
}

func (h *POSHandler) respondSale(w http.ResponseWriter, s *terminal.Session, sale *checkout.Sale, err error) {
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResp{Sale: sale, View: s.View()})
}

func (h *POSHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decode(w, r, &req) {
		return
	}
	d, err := h.session(r).SaveDraft(r.Context(), req.Name)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *POSHandler) listDrafts(w http.ResponseWriter, r *http.Request) {
	ds, err := h.session(r).ListDrafts(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if ds == nil {
		ds = []draft.Draft{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *POSHandler) loadDraft(w http.ResponseWriter, r *http.Request) {
	v, err := h.session(r).LoadDraft(r.Context(), chi.URLParam(r, "draft"))
	h.respondView(w, v, err)
}

func (h *POSHandler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.session(r).DeleteDraft(r.Context(), chi.URLParam(r, "draft")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *POSHandler) getSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sales.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *POSHandler) respondView(w http.ResponseWriter, v terminal.View, err error) {
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type errResp struct {
	Error     string           `json:"error"`
	Shortfall string           `json:"shortfall,omitempty"`
	Shortages []sales.Shortage `json:"shortages,omitempty"`
	Line      string           `json:"line,omitempty"`
	Available *int             `json:"available,omitempty"`
}

func (h *POSHandler) writeErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	body := errResp{Error: err.Error()}

	var short *payment.InsufficientPaymentError
	if errors.As(err, &short) {
		body.Shortfall = short.Shortfall().StringFixed(2)
	}
	var conflict *sales.StockConflictError
	if errors.As(err, &conflict) {
		body.Shortages = conflict.Shortages
	}
	var stock *cart.StockError
	if errors.As(err, &stock) {
		body.Line = stock.LineID
		body.Available = &stock.Available
	}

	if code >= http.StatusInternalServerError && h.Log != nil {
		h.Log.Error("request failed", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, checkout.ErrValidation),
		errors.Is(err, pricing.ErrInvalidDiscount),
		errors.Is(err, payment.ErrInvalidTender),
		errors.Is(err, cart.ErrInvalidLine),
		errors.Is(err, draft.ErrEmptyDraft):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, draft.ErrDraftNotFound),
		errors.Is(err, sales.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity
	// a stock conflict is also a commit failure; the more specific status wins
	case errors.Is(err, sales.ErrStockConflict),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, checkout.ErrCommitInProgress),
		errors.Is(err, terminal.ErrNoPendingChoice),
		errors.Is(err, terminal.ErrNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrCommitFailed):
		return http.StatusBadGateway
	case errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, terminal.ErrDraftsDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: errBadRequest.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
