// The worker host runs both queue consumers: order ingestion and stock
// reconciliation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abcretail/stock-pipeline/internal/config"
	"github.com/abcretail/stock-pipeline/internal/ingest"
	"github.com/abcretail/stock-pipeline/internal/kafkax"
	"github.com/abcretail/stock-pipeline/internal/orders"
	"github.com/abcretail/stock-pipeline/internal/postgres"
	"github.com/abcretail/stock-pipeline/internal/redisx"
	"github.com/abcretail/stock-pipeline/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", cfg.ServiceName+"-worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("db schema")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	if err := kafkax.EnsureTopics(ctx, cfg.KafkaBrokers,
		cfg.QueueOrderNotifications, cfg.QueueStockUpdates); err != nil {
		log.Fatal().Err(err).Msg("topic provisioning")
	}

	repo := &orders.Repo{DB: db}

	stockProd := kafkax.NewProducer(cfg.KafkaBrokers, cfg.QueueStockUpdates, 1024, log)
	stockProd.Start(ctx)

	ingestSvc := &ingest.Service{
		Store: repo,
		Stock: stockProd,
		Redis: rdb,
		Log:   log.With().Str("worker", "ingest").Logger(),
	}
	stockSvc := &stock.Service{
		Store: repo,
		Redis: rdb,
		Log:   log.With().Str("worker", "stock").Logger(),
	}

	ingestCons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Group:         "order-ingest",
		Topic:         cfg.QueueOrderNotifications,
		Workers:       cfg.Workers,
		MaxDeliveries: cfg.MaxDeliveries,
	}, log)
	stockCons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Group:         "stock-recon",
		Topic:         cfg.QueueStockUpdates,
		Workers:       cfg.Workers,
		MaxDeliveries: cfg.MaxDeliveries,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("topic", cfg.QueueOrderNotifications).Msg("ingest consumer started")
		return ingestCons.Start(gctx, ingestSvc.HandleOrderNotification)
	})
	g.Go(func() error {
		log.Info().Str("topic", cfg.QueueStockUpdates).Msg("stock consumer started")
		return stockCons.Start(gctx, stockSvc.HandleStockUpdate)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info().Msg("shutting down consumers")
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
	stockProd.Close()
	stockProd.WaitClosed()
}
