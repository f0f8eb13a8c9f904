package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Load()
	if cfg.QueueOrderNotifications != "order-notifications" {
		t.Fatalf("unexpected queue name: %s", cfg.QueueOrderNotifications)
	}
	if cfg.QueueStockUpdates != "stock-updates" {
		t.Fatalf("unexpected queue name: %s", cfg.QueueStockUpdates)
	}
	if cfg.MaxDeliveries != 5 {
		t.Fatalf("expected default delivery budget 5, got %d", cfg.MaxDeliveries)
	}
	if len(cfg.KafkaBrokers) == 0 {
		t.Fatal("expected at least one broker")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_DELIVERIES", "3")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("QUEUE_STOCK_UPDATES", "stock-updates-test")

	cfg := Load()
	if cfg.MaxDeliveries != 3 {
		t.Fatalf("expected 3, got %d", cfg.MaxDeliveries)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.QueueStockUpdates != "stock-updates-test" {
		t.Fatalf("unexpected queue: %s", cfg.QueueStockUpdates)
	}
}

func TestBadNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_DELIVERIES", "zero")
	t.Setenv("WORKERS", "-4")
	cfg := Load()
	if cfg.MaxDeliveries != 5 || cfg.Workers != 8 {
		t.Fatalf("expected defaults, got %d / %d", cfg.MaxDeliveries, cfg.Workers)
	}
}
