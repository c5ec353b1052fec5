package catalog

import (
	"context"
	"sync"
)

// Static is an in-memory Catalog.
type Static struct {
	mu       sync.RWMutex
	order    []string
	products map[string]Product
}

func NewStatic(products ...Product) *Static {
	s := &Static{products: make(map[string]Product)}
	for _, p := range products {
		s.Put(p)
	}
	return s
}

func (s *Static) Put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = p
}

func (s *Static) Product(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (s *Static) Search(_ context.Context, code string) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Product
	for _, id := range s.order {
		p := s.products[id]
		if matches(code, p.SKU, p.Barcode) {
			out = append(out, p)
			continue
		}
		for _, v := range p.Variants {
			if matches(code, v.SKU, v.Barcode) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}
