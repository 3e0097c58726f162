package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/vendalog/order-engine/internal/kafka"
)

// KafkaNotifier wraps events in the versioned envelope and hands them to
// the async producer. Publishing is fire-and-forget; write failures are
// logged inside the producer and never reach the caller.
type KafkaNotifier struct {
	Producer *kafkax.Producer
	Service  string
}

func NewKafkaNotifier(p *kafkax.Producer, service string) *KafkaNotifier {
	return &KafkaNotifier{Producer: p, Service: service}
}

func (n *KafkaNotifier) Publish(_ context.Context, eventType string, payload map[string]any) {
	ev := Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     n.Service,
		Payload:      kafkax.MustMarshal(payload),
	}

	key := []byte(nil)
	if orderID, ok := payload["order_id"].(string); ok {
		key = PartitionKey(orderID)
	}

	n.Producer.Publish(TopicFor(eventType), key, kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
