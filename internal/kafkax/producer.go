package kafkax

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Producer wraps a writer for one topic. Publish is asynchronous through an
// inbox channel and suits the HTTP edge; Send is synchronous and is what the
// workers use, so a failed publish surfaces before the inbound message is
// acknowledged.
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	quit     chan struct{}
	quitOnce sync.Once
	closeCh  chan struct{}
	log      zerolog.Logger
}

func NewProducer(brokers []string, topic string, buf int, log zerolog.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		quit:    make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log.With().Str("topic", topic).Logger(),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer func() {
			_ = p.w.Close()
			close(p.closeCh)
		}()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.quit:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(context.Background(), m)
			}
		}
	}()
}

// drain flushes whatever is buffered at shutdown. The inbox stays open, so a
// publisher racing shutdown blocks or drops instead of panicking.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(context.Background(), m)
		default:
			return
		}
	}
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error().Err(err).Msg("async publish failed")
	}
}

// Publish enqueues fire-and-forget. After the loop has exited the message is
// dropped with a warning.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
	case <-p.closeCh:
		p.log.Warn().Msg("publish after close dropped")
	}
}

// Send writes synchronously and reports the broker's answer.
func (p *Producer) Send(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers})
}

// Close asks the loop to flush the inbox and exit.
func (p *Producer) Close() { p.quitOnce.Do(func() { close(p.quit) }) }

func (p *Producer) WaitClosed() { <-p.closeCh }
