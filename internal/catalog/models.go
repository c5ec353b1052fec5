package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry with its sellable variants in display order.
type Product struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	SKU      string    `json:"sku"`
	Barcode  string    `json:"barcode"`
	IsGroup  bool      `json:"is_group"` // parent/group marker: always pick a variant explicitly
	Variants []Variant `json:"variants"`
}

// Variant carries a single resolved price; see Record.Product.
type Variant struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Barcode   string          `json:"barcode"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Quantity  int             `json:"quantity"`
	IsActive  bool            `json:"is_active"`
}

func (p Product) Sellable() []Variant {
	out := make([]Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out
}

func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// DisplayName joins product and variant names, skipping a redundant variant name.
func (p Product) DisplayName(v Variant) string {
	if v.Name == "" || strings.EqualFold(v.Name, p.Name) || strings.EqualFold(v.Name, "default") {
		return p.Name
	}
	return p.Name + " - " + v.Name
}

// PriceFields holds the untyped price columns a catalog source may carry.
// nil means the field is absent.
type PriceFields struct {
	SellingPrice *string
	Price        *string
	UnitPrice    *string
}

// Record is a raw catalog row set before prices are resolved.
type Record struct {
	ID       string
	Name     string
	SKU      string
	Barcode  string
	IsGroup  bool
	Prices   PriceFields
	Variants []VariantRecord
}

type VariantRecord struct {
	ID        string
	Name      string
	SKU       string
	Barcode   string
	Prices    PriceFields
	CostPrice *string
	Quantity  int
	IsActive  bool
	IsParent  bool
}

// Product resolves every variant price once and returns the typed product.
// A parent variant marks the whole product as a group.
func (r Record) Product() Product {
	p := Product{
		ID:       r.ID,
		Name:     r.Name,
		SKU:      r.SKU,
		Barcode:  r.Barcode,
		IsGroup:  r.IsGroup,
		Variants: make([]Variant, 0, len(r.Variants)),
	}
	for _, vr := range r.Variants {
		if vr.IsParent {
			p.IsGroup = true
		}
		qty := vr.Quantity
		if qty < 0 {
			qty = 0
		}
		p.Variants = append(p.Variants, Variant{
			ID:        vr.ID,
			ProductID: r.ID,
			Name:      vr.Name,
			SKU:       vr.SKU,
			Barcode:   vr.Barcode,
			Price:     ResolvePrice(vr.Prices, r.Prices),
			CostPrice: parsePrice(vr.CostPrice),
			Quantity:  qty,
			IsActive:  vr.IsActive,
		})
	}
	return p
}

// ResolvePrice walks variant selling price, variant price, variant unit price,
// product price, product selling price. The first present field wins; a
// present value that is not a non-negative number yields zero.
func ResolvePrice(variant, product PriceFields) decimal.Decimal {
	for _, f := range []*string{
		variant.SellingPrice,
		variant.Price,
		variant.UnitPrice,
		product.Price,
		product.SellingPrice,
	} {
		if f != nil {
			return parsePrice(f)
		}
	}
	return decimal.Zero
}

func parsePrice(s *string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
