package sales

import (
	"context"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Producer interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// EventPublisher emits SaleCommitted envelopes for the stock-sync worker.
type EventPublisher struct {
	Producer    Producer
	ServiceName string
}

func (p *EventPublisher) PublishSaleCommitted(ctx context.Context, s *checkout.Sale) error {
	lines := s.Lines()
	items := make([]SoldItem, 0, len(lines))
	for _, ln := range lines {
		items = append(items, SoldItem{ProductID: ln.ProductID, VariantID: ln.VariantID, Qty: ln.Quantity})
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventSaleCommitted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.ServiceName,
		CorrelationID: s.ID(),
		Payload: kafkax.MustMarshal(SaleCommittedPayload{
			SaleID:     s.ID(),
			SaleNumber: s.Number(),
			AttemptID:  s.AttemptID(),
			CustomerID: s.CustomerID(),
			Items:      items,
			Total:      s.Totals().GrandTotal.StringFixed(2),
			SoldBy:     s.SoldBy(),
			SoldAt:     s.SoldAt(),
		}),
	}
	return p.Producer.Publish(ctx, PartitionKey(s.ID()), kafkax.MustMarshal(ev), kafkax.EventHeaders(EventSaleCommitted, 1)...)
}
