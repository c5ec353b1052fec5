package sales

import (
	"encoding/json"
	"time"
)

const EventSaleCommitted = "SaleCommitted"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // sale id
	Payload       json.RawMessage `json:"payload"`
}

type SoldItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type SaleCommittedPayload struct {
	SaleID     string     `json:"sale_id"`
	SaleNumber string     `json:"sale_number"`
	AttemptID  string     `json:"attempt_id"`
	CustomerID string     `json:"customer_id"`
	Items      []SoldItem `json:"items"`
	Total      string     `json:"total"`
	SoldBy     string     `json:"sold_by"`
	SoldAt     time.Time  `json:"sold_at"`
}

// ProductIDs returns each product id once, in item order.
func (p SaleCommittedPayload) ProductIDs() []string {
	seen := make(map[string]bool, len(p.Items))
	out := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}
