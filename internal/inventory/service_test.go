package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingEvicter struct {
	calls [][]string
	err   error
}

func (r *recordingEvicter) Evict(_ context.Context, ids ...string) error {
	r.calls = append(r.calls, ids)
	return r.err
}

func saleEvent(eventID, eventType string) kafkago.Message {
	env := sales.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "pos-api",
		Payload: kafkax.MustMarshal(sales.SaleCommittedPayload{
			SaleID: "s-1", SaleNumber: "SALE-00000001-AAAA",
			Items: []sales.SoldItem{
				{ProductID: "tee", VariantID: "tee-s", Qty: 1},
				{ProductID: "mug", VariantID: "mug-1", Qty: 2},
				{ProductID: "tee", VariantID: "tee-m", Qty: 1},
			},
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func setup(t *testing.T, ev *recordingEvicter) *Service {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &Service{Catalog: ev, Redis: rdb, Log: zaptest.NewLogger(t)}
}

func TestHandleSaleCommitted_EvictsOncePerEvent(t *testing.T) {
	ev := &recordingEvicter{}
	svc := setup(t, ev)
	ctx := context.Background()

	require.NoError(t, svc.HandleSaleCommitted(ctx, saleEvent("e-1", sales.EventSaleCommitted)))
	require.NoError(t, svc.HandleSaleCommitted(ctx, saleEvent("e-1", sales.EventSaleCommitted)))
	require.Len(t, ev.calls, 1)
	assert.Equal(t, []string{"tee", "mug"}, ev.calls[0])

	require.NoError(t, svc.HandleSaleCommitted(ctx, saleEvent("e-2", sales.EventSaleCommitted)))
	assert.Len(t, ev.calls, 2)
}

func TestHandleSaleCommitted_IgnoresOtherEvents(t *testing.T) {
	ev := &recordingEvicter{}
	svc := setup(t, ev)
	require.NoError(t, svc.HandleSaleCommitted(context.Background(), saleEvent("e-1", "SomethingElse")))
	require.NoError(t, svc.HandleSaleCommitted(context.Background(), kafkago.Message{Value: []byte("{")}))
	assert.Empty(t, ev.calls)
}

func TestHandleSaleCommitted_FailureAllowsRedelivery(t *testing.T) {
	ev := &recordingEvicter{err: errors.New("redis down")}
	svc := setup(t, ev)
	ctx := context.Background()

	assert.Error(t, svc.HandleSaleCommitted(ctx, saleEvent("e-1", sales.EventSaleCommitted)))
	ev.err = nil
	require.NoError(t, svc.HandleSaleCommitted(ctx, saleEvent("e-1", sales.EventSaleCommitted)))
	assert.Len(t, ev.calls, 2)
}
