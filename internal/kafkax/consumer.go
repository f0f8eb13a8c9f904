package kafkax

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// HeaderDeliveryCount tracks how many times a message has been handed to a
// consumer. Absent on first delivery.
const HeaderDeliveryCount = "x-delivery-count"

// HeaderLastError carries the final handler error onto the poison queue.
const HeaderLastError = "x-last-error"

// Handler must return nil only when processing succeeded and the message may
// be acknowledged. Any error makes the message eligible for redelivery.
type Handler func(ctx context.Context, m kafka.Message) error

type ConsumerConfig struct {
	Brokers       []string
	Group         string
	Topic         string
	Workers       int
	MaxDeliveries int
}

// Consumer reads one topic with manual commits and a bounded redelivery
// budget: a failed message is republished to its own topic with an
// incremented delivery count, and moved to <topic>-poison once the budget is
// exhausted. Either way the original offset is then committed, so delivery is
// at-least-once end to end.
type Consumer struct {
	r       *kafka.Reader
	redeliv *kafka.Writer
	poison  *kafka.Writer
	workers int
	max     int
	log     zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return &Consumer{
		r: r,
		redeliv: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		poison: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        PoisonTopic(cfg.Topic),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		workers: cfg.Workers,
		max:     cfg.MaxDeliveries,
		log:     log.With().Str("topic", cfg.Topic).Logger(),
	}
}

// DeliveryCount reports which delivery attempt a message is on (1-based).
func DeliveryCount(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == HeaderDeliveryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

// withDeliveryCount replaces or appends the delivery-count header.
func withDeliveryCount(headers []kafka.Header, n int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != HeaderDeliveryCount {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: HeaderDeliveryCount, Value: []byte(strconv.Itoa(n))})
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	defer c.redeliv.Close()
	defer c.poison.Close()

	jobs := make(chan kafka.Message, 1024)

	for i := 0; i < c.workers; i++ {
		go func() {
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}()
	}

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			close(jobs)
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	err := h(ctx, m)
	if err == nil {
		if err := c.r.CommitMessages(ctx, m); err != nil {
			c.log.Error().Err(err).Msg("commit failed")
		}
		return
	}
	if ctx.Err() != nil {
		// Cancelled mid-flight: no ack, no redelivery bookkeeping. The group
		// rebalance hands the uncommitted message to the next consumer.
		return
	}

	// When the poison/redelivery write below fails we skip the commit so the
	// message stays eligible for redelivery. That is best effort only: a
	// concurrent worker committing a later offset on the same partition
	// acknowledges this message with it. The window exists only while the
	// broker write itself is failing.
	attempt := DeliveryCount(m)
	if attempt >= c.max {
		c.log.Error().Err(err).Int("deliveries", attempt).Msg("delivery budget exhausted, parking message")
		pm := kafka.Message{
			Key:   m.Key,
			Value: m.Value,
			Time:  time.Now(),
			Headers: append(withDeliveryCount(m.Headers, attempt),
				kafka.Header{Key: HeaderLastError, Value: []byte(err.Error())}),
		}
		if perr := c.poison.WriteMessages(ctx, pm); perr != nil {
			c.log.Error().Err(perr).Msg("poison publish failed, skipping commit")
			return
		}
	} else {
		c.log.Warn().Err(err).Int("delivery", attempt).Msg("processing failed, redelivering")
		rm := kafka.Message{
			Key:     m.Key,
			Value:   m.Value,
			Time:    time.Now(),
			Headers: withDeliveryCount(m.Headers, attempt+1),
		}
		if rerr := c.redeliv.WriteMessages(ctx, rm); rerr != nil {
			c.log.Error().Err(rerr).Msg("redelivery publish failed, skipping commit")
			return
		}
	}
	if cerr := c.r.CommitMessages(ctx, m); cerr != nil {
		c.log.Error().Err(cerr).Msg("commit failed")
	}
}
