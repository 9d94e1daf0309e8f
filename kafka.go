package stoporder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultStopOrderTopic is the Kafka topic lifecycle events are published to
// unless a different one is configured.
const DefaultStopOrderTopic = "stop_orders"

// KafkaPublisher publishes stop-order lifecycle events to a Kafka topic,
// keyed by market id so one market's events stay in order within a
// partition. Writes are batched and asynchronous; delivery failures are
// logged, not surfaced to the evaluation loop.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher connected to the given brokers.
// Topic may be empty to use DefaultStopOrderTopic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultStopOrderTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to deliver stop order events", "error", err, "count", len(messages))
			}
		},
	}
	return &KafkaPublisher{writer: writer}
}

// Publish serializes the events and queues them for delivery.
func (p *KafkaPublisher) Publish(events ...*StopOrderEvent) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			logger.Error("failed to marshal stop order event", "error", err, "stop_order_id", event.StopOrderID)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.MarketID),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := p.writer.WriteMessages(context.Background(), msgs...); err != nil {
		logger.Error("failed to publish stop order events", "error", err)
	}
}

// Close flushes pending messages and releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
