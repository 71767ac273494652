package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Publisher mirrors the in-process bus onto Kafka for cross-process
// consumers. One topic per aggregate type, messages keyed by aggregate id,
// so all of one aggregate's events land on a single partition in the order
// they were published.
type Publisher struct {
	publisher   *wmkafka.Publisher
	topicPrefix string
}

// NewPublisher connects a Kafka publisher.
func NewPublisher(brokers []string, topicPrefix string, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := wmkafka.DefaultSaramaSyncPublisherConfig()
	saramaConfig.ClientID = "clinic-core"
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := wmkafka.NewPublisher(wmkafka.PublisherConfig{
		Brokers: brokers,
		Marshaler: wmkafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
			return msg.Metadata.Get("aggregate_id"), nil
		}),
		OverwriteSaramaConfig: saramaConfig,
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &Publisher{publisher: publisher, topicPrefix: topicPrefix}, nil
}

// PublishMany writes events to Kafka in the order given, one topic per
// aggregate type under the configured prefix.
func (p *Publisher) PublishMany(ctx context.Context, events []event.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
		}

		msg := message.NewMessage(e.ID, payload)
		msg.Metadata.Set("aggregate_id", e.AggregateID)
		msg.Metadata.Set("event_type", string(e.Type))
		msg.SetContext(ctx)

		topic := p.topicPrefix + "." + string(e.AggregateType)
		if err := p.publisher.Publish(topic, msg); err != nil {
			return fmt.Errorf("failed to publish %s to kafka: %w", e.Type, err)
		}
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
