// Package stock applies signed quantity deltas to product rows under
// optimistic concurrency.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/abcretail/stock-pipeline/internal/kafkax"
	"github.com/abcretail/stock-pipeline/internal/orders"
	"github.com/abcretail/stock-pipeline/internal/redisx"
)

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	UpdateProduct(ctx context.Context, p orders.Product, expectedETag string) (newETag string, err error)
}

type Service struct {
	Store ProductStore
	Redis *redis.Client
	Log   zerolog.Logger
}

// HandleStockUpdate applies one adjustment: re-read the row, compute the new
// stock, clamp at zero, write back conditioned on the ETag just read. The
// ETag carried in the message is stale by construction and is never used.
// A conflict is not retried here; returning it lets the channel redeliver so
// the next attempt starts from fresh state.
func (s *Service) HandleStockUpdate(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[orders.StockUpdateMessage](m.Value)
	if err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("stock update: %w", err)
	}

	p, err := s.Store.GetProduct(ctx, msg.ProductID)
	if errors.Is(err, orders.ErrNotFound) {
		s.Log.Warn().Str("product_id", msg.ProductID).Msg("stock update for unknown product")
		return err
	}
	if err != nil {
		return fmt.Errorf("read product %s: %w", msg.ProductID, err)
	}

	newStock := p.StockAvailable + msg.QuantityChange
	if newStock < 0 {
		s.Log.Warn().Str("product_id", p.ID).
			Int("clamped_from", newStock).
			Int("stock_before", p.StockAvailable).
			Int("quantity_change", msg.QuantityChange).
			Msg("stock went negative, clamping to zero")
		newStock = 0
	}
	p.StockAvailable = newStock

	newETag, err := s.Store.UpdateProduct(ctx, p, p.ETag)
	if errors.Is(err, orders.ErrConflict) {
		// Expected contention, not a failure. Redelivery re-reads.
		s.Log.Debug().Str("product_id", p.ID).Msg("etag conflict, deferring to redelivery")
		return err
	}
	if err != nil {
		return fmt.Errorf("write product %s: %w", p.ID, err)
	}

	if s.Redis != nil {
		// Drop the cached view rather than rewrite it; the next read refills.
		_ = s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyProduct, p.ID)).Err()
	}
	s.Log.Info().Str("product_id", p.ID).Int("stock_available", newStock).
		Str("etag", newETag).Msg("stock updated")
	return nil
}
