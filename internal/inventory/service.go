package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Evicter drops cached catalog entries; *catalog.Cache satisfies it.
type Evicter interface {
	Evict(ctx context.Context, productIDs ...string) error
}

type Service struct {
	Catalog Evicter
	Redis   *redis.Client
	Log     *zap.Logger
}

// HandleSaleCommitted: dipasang sebagai handler consumer.
// Stock was already decremented in the sale transaction; this only makes the
// cached catalog forget the sold products so the next lookup reads fresh stock.
func (s *Service) HandleSaleCommitted(ctx context.Context, m kafkago.Message) error {
	var env sales.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and commit past it
		s.Log.Error("undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != sales.EventSaleCommitted {
		return nil
	}

	// dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, "inventory", env.EventID)
	fresh, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !fresh {
		s.Log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	p, err := kafkax.UnwrapPayload[sales.SaleCommittedPayload](env.Payload)
	if err != nil {
		s.Log.Error("bad sale payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	ids := p.ProductIDs()
	if err := s.Catalog.Evict(ctx, ids...); err != nil {
		// release the claim so the redelivery is not skipped
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	s.Log.Info("catalog refreshed after sale",
		zap.String("sale_id", p.SaleID), zap.String("sale_number", p.SaleNumber), zap.Strings("product_ids", ids))
	return nil
}
