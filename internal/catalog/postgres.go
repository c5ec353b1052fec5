package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCatalog reads products and variants from Postgres.
type PGCatalog struct{ DB *pgxpool.Pool }

func (c *PGCatalog) Product(ctx context.Context, id string) (Product, error) {
	ps, err := c.load(ctx, []string{id})
	if err != nil {
		return Product{}, err
	}
	if len(ps) == 0 {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return ps[0], nil
}

func (c *PGCatalog) Search(ctx context.Context, code string) ([]Product, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT DISTINCT p.id
		FROM products p
		LEFT JOIN product_variants v ON v.product_id = p.id
		WHERE lower(p.sku) = lower($1) OR lower(p.barcode) = lower($1)
		   OR lower(v.sku) = lower($1) OR lower(v.barcode) = lower($1)`, code)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.load(ctx, ids)
}

// load fetches products with their variants; prices come back as text so the
// fallback chain in Record.Product sees exactly which columns are NULL.
func (c *PGCatalog) load(ctx context.Context, ids []string) ([]Product, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT id, name, sku, barcode, is_group, price::text, selling_price::text
		FROM products WHERE id = ANY($1) ORDER BY sku`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	var recs []*Record
	byID := map[string]*Record{}
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.Name, &r.SKU, &r.Barcode, &r.IsGroup, &r.Prices.Price, &r.Prices.SellingPrice); err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, r)
		byID[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	vrows, err := c.DB.Query(ctx, `
		SELECT product_id, id, name, sku, barcode,
		       selling_price::text, price::text, unit_price::text, cost_price::text,
		       quantity, is_active, is_parent
		FROM product_variants WHERE product_id = ANY($1)
		ORDER BY product_id, position, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var pid string
		var v VariantRecord
		if err := vrows.Scan(&pid, &v.ID, &v.Name, &v.SKU, &v.Barcode,
			&v.Prices.SellingPrice, &v.Prices.Price, &v.Prices.UnitPrice, &v.CostPrice,
			&v.Quantity, &v.IsActive, &v.IsParent); err != nil {
			return nil, err
		}
		if r, ok := byID[pid]; ok {
			r.Variants = append(r.Variants, v)
		}
	}
	if err := vrows.Err(); err != nil {
		return nil, err
	}

	out := make([]Product, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Product())
	}
	return out, nil
}
