package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("catalog: no matching product or variant")

// Catalog is the read-only product source.
type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
	// Search returns candidate products whose own or variant sku/barcode may
	// equal code. Exact matching is done by the Resolver.
	Search(ctx context.Context, code string) ([]Product, error)
}

// Resolution is either a single variant or a pending choice among Choices.
type Resolution struct {
	Product Product
	Variant *Variant
	Choices []Variant
}

func (r Resolution) NeedsChoice() bool { return r.Variant == nil }

type Resolver struct {
	catalog Catalog
}

func NewResolver(c Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// ResolveForAdd never guesses: a group product or one with several sellable
// variants yields a choice.
func (r *Resolver) ResolveForAdd(p Product) (Resolution, error) {
	sellable := p.Sellable()
	if len(sellable) == 0 {
		return Resolution{}, fmt.Errorf("product %s has no sellable variant: %w", p.ID, ErrNotFound)
	}
	if len(sellable) == 1 && !p.IsGroup {
		v := sellable[0]
		return Resolution{Product: p, Variant: &v}, nil
	}
	return Resolution{Product: p, Choices: sellable}, nil
}

func (r *Resolver) ResolveProduct(ctx context.Context, productID string) (Resolution, error) {
	p, err := r.catalog.Product(ctx, productID)
	if err != nil {
		return Resolution{}, err
	}
	return r.ResolveForAdd(p)
}

// ResolveByCode matches code case-insensitively against variant sku/barcode
// first, then product sku/barcode.
func (r *Resolver) ResolveByCode(ctx context.Context, code string) (Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Resolution{}, fmt.Errorf("empty code: %w", ErrNotFound)
	}
	products, err := r.catalog.Search(ctx, code)
	if err != nil {
		return Resolution{}, err
	}

	for _, p := range products {
		for _, v := range p.Sellable() {
			if matches(code, v.SKU, v.Barcode) {
				v := v
				return Resolution{Product: p, Variant: &v}, nil
			}
		}
	}
	for _, p := range products {
		if matches(code, p.SKU, p.Barcode) {
			return r.ResolveForAdd(p)
		}
	}
	return Resolution{}, fmt.Errorf("code %q: %w", code, ErrNotFound)
}

// Choose settles a pending resolution.
func (r *Resolver) Choose(res Resolution, variantID string) (Variant, error) {
	for _, v := range res.Choices {
		if v.ID == variantID {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("variant %s is not a choice for product %s: %w", variantID, res.Product.ID, ErrNotFound)
}

func matches(code string, candidates ...string) bool {
	for _, c := range candidates {
		if c != "" && strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}
	return false
}
