package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/abcretail/stock-pipeline/internal/config"
	"github.com/abcretail/stock-pipeline/internal/httpx"
	"github.com/abcretail/stock-pipeline/internal/kafkax"
	"github.com/abcretail/stock-pipeline/internal/orders"
	"github.com/abcretail/stock-pipeline/internal/postgres"
	"github.com/abcretail/stock-pipeline/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", cfg.ServiceName).Logger()

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

	notif := kafkax.NewProducer(cfg.KafkaBrokers, cfg.QueueOrderNotifications, 1024, log)
	notif.Start(ctx)

	repo := &orders.Repo{DB: db}
	router := httpx.NewRouter()
	sh := &httpx.StorefrontHandler{
		Store:    repo,
		Notifier: notif,
		Redis:    rdb,
		Log:      log,
	}
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	notif.Close() // close inbox -> flush & close writer
	cancel()
	notif.WaitClosed()
}
