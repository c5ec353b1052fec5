package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrStockConflict  = errors.New("stock conflict")
	ErrSaleNotFound   = errors.New("sale not found")
	ErrMissingAttempt = errors.New("payload has no attempt id")
)

type Shortage struct {
	VariantID string `json:"variant_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// StockConflictError lists every variant that could not cover its quantity.
// Nothing is written when it is returned.
type StockConflictError struct {
	Shortages []Shortage
}

func (e *StockConflictError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s need %d have %d", s.VariantID, s.Required, s.Available))
	}
	return "stock conflict: " + strings.Join(parts, ", ")
}

func (e *StockConflictError) Is(target error) bool { return target == ErrStockConflict }

// Repo is the Postgres sale store. It implements checkout.Persister.
type Repo struct {
	DB  *pgxpool.Pool
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// CommitSale: idempotent via attempt_id.
// Sale header, items, payments and every stock decrement commit in one tx;
// a shortage on any variant rolls back all of it.
func (r *Repo) CommitSale(ctx context.Context, p checkout.Payload) (checkout.Receipt, error) {
	if p.AttemptID == "" {
		return checkout.Receipt{}, ErrMissingAttempt
	}
	if rec, err := r.receiptByAttempt(ctx, p.AttemptID); err == nil {
		return rec, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return checkout.Receipt{}, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return checkout.Receipt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	need := map[string]int{}
	for _, it := range p.Items {
		if it.Quantity <= 0 {
			return checkout.Receipt{}, fmt.Errorf("invalid qty for variant %s", it.VariantID)
		}
		need[it.VariantID] += it.Quantity
	}
	// lock rows in a fixed order so two terminals never wait on each other
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var shortages []Shortage
	for _, id := range ids {
		var stock int
		err := tx.QueryRow(ctx, `SELECT quantity FROM product_variants WHERE id=$1 FOR UPDATE`, id).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortages = append(shortages, Shortage{VariantID: id, Required: need[id]})
			continue
		}
		if err != nil {
			return checkout.Receipt{}, err
		}
		if stock < need[id] {
			shortages = append(shortages, Shortage{VariantID: id, Required: need[id], Available: stock})
		}
	}
	if len(shortages) > 0 {
		return checkout.Receipt{}, &StockConflictError{Shortages: shortages}
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE product_variants SET quantity = quantity - $2, updated_at = now() WHERE id=$1`, id, need[id]); err != nil {
			return checkout.Receipt{}, err
		}
	}

	rec := checkout.Receipt{SaleID: uuid.NewString(), SaleNumber: NewSaleNumber(r.now())}
	ct, err := tx.Exec(ctx, `
		INSERT INTO sales(id, sale_number, attempt_id, customer_id, subtotal, discount, discount_type,
		                  tax, total, total_paid, status, sold_by, sold_at, notes)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14)
		ON CONFLICT (attempt_id) DO NOTHING`,
		rec.SaleID, rec.SaleNumber, p.AttemptID, p.CustomerID,
		p.Subtotal.String(), p.Discount.String(), p.DiscountType,
		p.Tax.String(), p.Total.String(), p.TotalPaid.String(),
		checkout.StatusCompleted, p.SoldBy, p.SoldAt, p.Notes)
	if err != nil {
		return checkout.Receipt{}, err
	}
	if ct.RowsAffected() == 0 {
		// the same attempt won a race on another connection
		_ = tx.Rollback(ctx)
		return r.receiptByAttempt(ctx, p.AttemptID)
	}

	for i, it := range p.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sale_items(sale_id, line_no, product_id, variant_id, sku, quantity,
			                       unit_price, total_price, cost_price, profit)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric)`,
			rec.SaleID, i+1, it.ProductID, it.VariantID, it.SKU, it.Quantity,
			it.UnitPrice.String(), it.TotalPrice.String(), it.CostPrice.String(), it.Profit.String()); err != nil {
			return checkout.Receipt{}, err
		}
	}
	for i, t := range p.Payments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sale_payments(sale_id, seq, method, amount, reference, account, paid_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
			rec.SaleID, i+1, t.Method, t.Amount.String(), t.Reference, t.Account, t.Timestamp); err != nil {
			return checkout.Receipt{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return checkout.Receipt{}, err
	}
	return rec, nil
}

func (r *Repo) receiptByAttempt(ctx context.Context, attemptID string) (checkout.Receipt, error) {
	var rec checkout.Receipt
	err := r.DB.QueryRow(ctx, `SELECT id::text, sale_number FROM sales WHERE attempt_id=$1`, attemptID).
		Scan(&rec.SaleID, &rec.SaleNumber)
	return rec, err
}

// StoredSale is a sale as read back from the database.
type StoredSale struct {
	ID           string                 `json:"id"`
	Number       string                 `json:"saleNumber"`
	AttemptID    string                 `json:"attemptId"`
	CustomerID   string                 `json:"customerId"`
	Subtotal     decimal.Decimal        `json:"subtotal"`
	Discount     decimal.Decimal        `json:"discount"`
	DiscountType string                 `json:"discountType"`
	Tax          decimal.Decimal        `json:"tax"`
	Total        decimal.Decimal        `json:"total"`
	TotalPaid    decimal.Decimal        `json:"totalPaid"`
	Status       string                 `json:"status"`
	SoldBy       string                 `json:"soldBy"`
	SoldAt       time.Time              `json:"soldAt"`
	Notes        string                 `json:"notes"`
	Items        []checkout.PayloadItem `json:"items"`
	Payments     []payment.Tender       `json:"payments"`
}

func (r *Repo) GetSale(ctx context.Context, saleID string) (StoredSale, error) {
	if _, err := uuid.Parse(saleID); err != nil {
		return StoredSale{}, fmt.Errorf("%s: %w", saleID, ErrSaleNotFound)
	}

	var s StoredSale
	var sub, disc, tax, total, paid string
	err := r.DB.QueryRow(ctx, `
		SELECT id::text, sale_number, attempt_id, customer_id, subtotal::text, discount::text, discount_type,
		       tax::text, total::text, total_paid::text, status, sold_by, sold_at, notes
		FROM sales WHERE id=$1`, saleID).
		Scan(&s.ID, &s.Number, &s.AttemptID, &s.CustomerID, &sub, &disc, &s.DiscountType,
			&tax, &total, &paid, &s.Status, &s.SoldBy, &s.SoldAt, &s.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredSale{}, fmt.Errorf("%s: %w", saleID, ErrSaleNotFound)
	}
	if err != nil {
		return StoredSale{}, err
	}
	if err := parseDecimals(map[*decimal.Decimal]string{
		&s.Subtotal: sub, &s.Discount: disc, &s.Tax: tax, &s.Total: total, &s.TotalPaid: paid,
	}); err != nil {
		return StoredSale{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, variant_id, sku, quantity, unit_price::text, total_price::text,
		       cost_price::text, profit::text
		FROM sale_items WHERE sale_id=$1 ORDER BY line_no`, saleID)
	if err != nil {
		return StoredSale{}, err
	}
	for rows.Next() {
		var it checkout.PayloadItem
		var unit, line, cost, profit string
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.SKU, &it.Quantity, &unit, &line, &cost, &profit); err != nil {
			rows.Close()
			return StoredSale{}, err
		}
		if err := parseDecimals(map[*decimal.Decimal]string{
			&it.UnitPrice: unit, &it.TotalPrice: line, &it.CostPrice: cost, &it.Profit: profit,
		}); err != nil {
			rows.Close()
			return StoredSale{}, err
		}
		s.Items = append(s.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return StoredSale{}, err
	}

	prows, err := r.DB.Query(ctx, `
		SELECT method, amount::text, reference, account, paid_at
		FROM sale_payments WHERE sale_id=$1 ORDER BY seq`, saleID)
	if err != nil {
		return StoredSale{}, err
	}
	defer prows.Close()
	for prows.Next() {
		var t payment.Tender
		var amount string
		if err := prows.Scan(&t.Method, &amount, &t.Reference, &t.Account, &t.Timestamp); err != nil {
			return StoredSale{}, err
		}
		if err := parseDecimals(map[*decimal.Decimal]string{&t.Amount: amount}); err != nil {
			return StoredSale{}, err
		}
		t.Timestamp = t.Timestamp.UTC()
		s.Payments = append(s.Payments, t)
	}
	s.SoldAt = s.SoldAt.UTC()
	return s, prows.Err()
}

func parseDecimals(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}
