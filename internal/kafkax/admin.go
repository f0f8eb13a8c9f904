package kafkax

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
)

// PoisonTopic names the dead-letter destination for a topic.
func PoisonTopic(topic string) string { return topic + "-poison" }

// EnsureTopics provisions the given topics plus their poison counterparts.
// Repeat calls are no-ops.
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) error {
	client := &kafka.Client{Addr: kafka.TCP(brokers...)}

	configs := make([]kafka.TopicConfig, 0, len(topics)*2)
	for _, t := range topics {
		for _, name := range []string{t, PoisonTopic(t)} {
			configs = append(configs, kafka.TopicConfig{
				Topic:             name,
				NumPartitions:     -1,
				ReplicationFactor: -1,
			})
		}
	}

	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: configs})
	if err != nil {
		return err
	}
	for topic, terr := range resp.Errors {
		if terr != nil && !errors.Is(terr, kafka.TopicAlreadyExists) {
			return errors.Join(errors.New("create topic "+topic), terr)
		}
	}
	return nil
}
