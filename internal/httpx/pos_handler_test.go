package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/draft"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/ariefcatur/go-pos-checkout/internal/terminal"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedPersister struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedPersister) CommitSale(_ context.Context, pl checkout.Payload) (checkout.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return checkout.Receipt{}, err
		}
	}
	return checkout.Receipt{SaleID: fmt.Sprintf("sale-%d", p.calls), SaleNumber: "SALE-12345678-ABCD"}, nil
}

type saleLookup map[string]sales.StoredSale

func (s saleLookup) GetSale(_ context.Context, id string) (sales.StoredSale, error) {
	if v, ok := s[id]; ok {
		return v, nil
	}
	return sales.StoredSale{}, sales.ErrSaleNotFound
}

func setupServer(t *testing.T, p checkout.Persister, store draft.Store) *httptest.Server {
	t.Helper()
	cat := catalog.NewStatic(
		catalog.Product{ID: "mug", Name: "Mug", SKU: "MUG", Barcode: "4001",
			Variants: []catalog.Variant{{ID: "mug-1", ProductID: "mug", Name: "Default", SKU: "MUG-1",
				Price: decimal.NewFromInt(2500), Quantity: 2, IsActive: true}}},
		catalog.Product{ID: "tee", Name: "Tee", SKU: "TEE",
			Variants: []catalog.Variant{
				{ID: "tee-s", ProductID: "tee", Name: "S", SKU: "TEE-S", Price: decimal.NewFromInt(1000), Quantity: 2, IsActive: true},
				{ID: "tee-m", ProductID: "tee", Name: "M", SKU: "TEE-M", Price: decimal.NewFromInt(1000), Quantity: 1, IsActive: true},
			}},
	)
	log := zaptest.NewLogger(t)
	reg := terminal.NewRegistry(terminal.Deps{
		Resolver:      catalog.NewResolver(cat),
		Persister:     p,
		DraftStore:    store,
		CommitTimeout: time.Second,
		Log:           log,
	})
	r := NewRouter()
	h := &POSHandler{
		Terminals: reg,
		Sales:     saleLookup{"s-1": {ID: "s-1", Number: "SALE-00000001-AAAA", Total: decimal.NewFromInt(10)}},
		Log:       log,
	}
	h.Register(r)
	srv := httptest.NewServer(Instrument(r, "pos-api-test"))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out["items"] = raw
		}
	}
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	srv := setupServer(t, &scriptedPersister{}, nil)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPOS_SaleFlow(t *testing.T) {
	srv := setupServer(t, &scriptedPersister{}, nil)
	base := "/terminals/T1"

	code, v := call(t, srv, http.MethodPost, base+"/scan", `{"code":"4001"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, v["lines"], 1)

	code, v = call(t, srv, http.MethodPost, base+"/products/tee", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "awaiting_variant_choice", v["phase"])
	assert.Len(t, v["choices"], 2)

	code, v = call(t, srv, http.MethodPost, base+"/choice", `{"variantId":"tee-m"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", v["phase"])

	code, v = call(t, srv, http.MethodPatch, base+"/lines/tee:tee-m", `{"delta":1}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "tee:tee-m", v["line"])
	assert.EqualValues(t, 1, v["available"])

	code, _ = call(t, srv, http.MethodPatch, base+"/lines/nope:x", `{"delta":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, srv, http.MethodPut, base+"/discount", `{"type":"percentage","value":"150"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, srv, http.MethodPut, base+"/discount", `{"type":"fixed","value":"500"}`)
	require.Equal(t, http.StatusOK, code)

	code, v = call(t, srv, http.MethodPost, base+"/checkout/begin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3000", v["grandTotal"])

	code, _ = call(t, srv, http.MethodPost, base+"/checkout", `{"payments":[{"method":"cash","amount":"3000"}],"soldBy":"kasir"}`)
	assert.Equal(t, http.StatusBadRequest, code, "customer is required")

	code, _ = call(t, srv, http.MethodPut, base+"/customer", `{"customerId":"c-1"}`)
	require.Equal(t, http.StatusOK, code)

	code, v = call(t, srv, http.MethodPost, base+"/checkout", `{"payments":[{"method":"cash","amount":"1000"}],"soldBy":"kasir"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "2000.00", v["shortfall"])

	code, v = call(t, srv, http.MethodPost, base+"/checkout",
		`{"payments":[{"method":"cash","amount":"2000"},{"method":"QRIS","amount":"1500","reference":"q-1"}],"soldBy":"kasir"}`)
	require.Equal(t, http.StatusCreated, code)
	sale := v["sale"].(map[string]any)
	assert.Equal(t, "sale-1", sale["id"])
	view := v["view"].(map[string]any)
	assert.Empty(t, view["lines"])
	assert.Equal(t, "COMMITTED", view["commitState"])

	code, _ = call(t, srv, http.MethodPost, base+"/checkout/retry", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestPOS_CommitFailures(t *testing.T) {
	conflict := &sales.StockConflictError{Shortages: []sales.Shortage{{VariantID: "mug-1", Required: 1, Available: 0}}}
	p := &scriptedPersister{errs: []error{errors.New("db down"), conflict}}
	srv := setupServer(t, p, nil)
	base := "/terminals/T9"

	call(t, srv, http.MethodPost, base+"/scan", `{"code":"MUG-1"}`)
	call(t, srv, http.MethodPut, base+"/customer", `{"customerId":"c-1"}`)

	code, _ := call(t, srv, http.MethodPost, base+"/checkout", `{"payments":[{"method":"cash","amount":"5000"}],"soldBy":"kasir"}`)
	assert.Equal(t, http.StatusBadGateway, code)

	code, v := call(t, srv, http.MethodPost, base+"/checkout/retry", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Len(t, v["shortages"], 1)

	code, v = call(t, srv, http.MethodGet, base+"/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, v["lines"], 1, "cart kept after failed commits")
	assert.Equal(t, "FAILED", v["commitState"])

	code, v = call(t, srv, http.MethodPost, base+"/checkout/retry", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 3, p.calls)
}

func TestPOS_Drafts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	srv := setupServer(t, &scriptedPersister{}, draft.NewRedisStore(rdb, time.Hour))
	base := "/terminals/T1"

	code, _ := call(t, srv, http.MethodPost, base+"/drafts", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code, "empty cart")

	call(t, srv, http.MethodPost, base+"/scan", `{"code":"4001"}`)
	call(t, srv, http.MethodPut, base+"/notes", `{"notes":"table 4"}`)
	code, d := call(t, srv, http.MethodPost, base+"/drafts", `{"name":"table 4"}`)
	require.Equal(t, http.StatusCreated, code)
	id := d["id"].(string)

	code, _ = call(t, srv, http.MethodDelete, base+"/cart", "")
	require.Equal(t, http.StatusOK, code)

	code, v := call(t, srv, http.MethodPost, base+"/drafts/"+id+"/load", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "table 4", v["notes"])
	assert.Len(t, v["lines"], 1)

	code, list := call(t, srv, http.MethodGet, base+"/drafts", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list["items"], 1)

	code, _ = call(t, srv, http.MethodDelete, base+"/drafts/"+id, "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = call(t, srv, http.MethodDelete, base+"/drafts/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPOS_DraftsDisabled(t *testing.T) {
	srv := setupServer(t, &scriptedPersister{}, nil)
	code, _ := call(t, srv, http.MethodGet, "/terminals/T1/drafts", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestPOS_BadRequestsAndLookups(t *testing.T) {
	srv := setupServer(t, &scriptedPersister{}, nil)

	code, v := call(t, srv, http.MethodPost, "/terminals/T1/scan", `{"code":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid json", v["error"])

	code, _ = call(t, srv, http.MethodPost, "/terminals/T1/scan", `{"code":"999"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, srv, http.MethodPost, "/terminals/T1/choice", `{"variantId":"tee-m"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, v = call(t, srv, http.MethodGet, "/sales/s-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SALE-00000001-AAAA", v["saleNumber"])

	code, _ = call(t, srv, http.MethodGet, "/sales/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{checkout.ErrEmptyCart, http.StatusBadRequest},
		{&checkout.CommitError{Err: errors.New("x")}, http.StatusBadGateway},
		{&checkout.CommitError{Err: &sales.StockConflictError{}}, http.StatusConflict},
		{checkout.ErrCommitInProgress, http.StatusConflict},
		{fmt.Errorf("lookup: %w", catalog.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
