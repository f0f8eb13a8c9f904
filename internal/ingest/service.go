// Package ingest consumes order notifications and turns them into durable
// orders plus a stock adjustment for each sale.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/abcretail/stock-pipeline/internal/kafkax"
	"github.com/abcretail/stock-pipeline/internal/orders"
	"github.com/abcretail/stock-pipeline/internal/redisx"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, o orders.Order) (orderID string, existed bool, err error)
}

type Publisher interface {
	Send(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

type Service struct {
	Store OrderStore
	Stock Publisher // stock-updates queue
	Redis *redis.Client
	Log   zerolog.Logger
}

// HandleOrderNotification processes one notification. The order row is
// written before the adjustment is sent; a send failure leaves the message
// unacked so the channel redelivers, and the conditional insert then absorbs
// the duplicate.
func (s *Service) HandleOrderNotification(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[orders.OrderNotificationMessage](m.Value)
	if err != nil {
		return err
	}
	if msg.Type != orders.TypeCreateOrder {
		s.Log.Info().Str("type", msg.Type).Msg("ignoring notification type")
		return nil
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("order notification: %w", err)
	}

	// Fast path: this key already produced an order and its adjustment.
	dkey := fmt.Sprintf(redisx.KeyDedup, "ingest", msg.IdempotencyKey)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			return nil
		}
	}

	o := orders.Order{
		IdempotencyKey: msg.IdempotencyKey,
		CustomerID:     msg.CustomerID,
		ProductID:      msg.ProductID,
		ProductName:    msg.ProductName,
		Quantity:       msg.Quantity,
		UnitPrice:      msg.UnitPrice,
		Status:         orders.StatusSubmitted,
		OrderDate:      time.Now().UTC(),
	}
	orderID, existed, err := s.Store.CreateOrder(ctx, o)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.ID = orderID
	if existed {
		// Redelivered notification. The first delivery owns the adjustment,
		// so this one is acknowledged without re-emitting. Only the dedup key
		// is written: the order may have moved past Submitted by now, and a
		// stale cache entry here would shadow that.
		s.Log.Warn().Str("order_id", orderID).Str("idempotency_key", msg.IdempotencyKey).
			Msg("duplicate notification absorbed")
		s.markSeen(ctx, dkey, orderID)
		return nil
	}

	adj := orders.StockUpdateMessage{
		ProductID:      msg.ProductID,
		QuantityChange: -msg.Quantity,
		ProductETag:    msg.ProductETag,
	}
	if err := s.Stock.Send(ctx, orders.PartitionKey(msg.ProductID), kafkax.MustMarshal(adj)); err != nil {
		return fmt.Errorf("enqueue stock update: %w", err)
	}

	s.markSeen(ctx, dkey, orderID)
	s.cacheOrder(ctx, o)
	s.Log.Info().Str("order_id", orderID).Str("product_id", msg.ProductID).
		Int("quantity", msg.Quantity).Msg("order created, stock update queued")
	return nil
}

// markSeen records the key in redis, best effort. Postgres stays the truth.
func (s *Service) markSeen(ctx context.Context, dkey, orderID string) {
	if s.Redis == nil {
		return
	}
	_ = s.Redis.Set(ctx, dkey, orderID, redisx.TTLDedup).Err()
}

// cacheOrder primes the read cache with the row as just inserted. Called only
// on the first delivery, while Submitted is still accurate.
func (s *Service) cacheOrder(ctx context.Context, o orders.Order) {
	if s.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID), b, redisx.TTLOrderCache).Err()
}
