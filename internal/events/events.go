package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	OrderCreated       = "OrderCreated"
	OrderStatusChanged = "OrderStatusChanged"
	OrderCancelled     = "OrderCancelled"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderCancelled     = "order.cancelled"
)

// Envelope is the stable wire shape for every published event.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

// TopicFor maps an event type to its topic; unknown types share the
// created topic so nothing is silently dropped.
func TopicFor(eventType string) string {
	switch eventType {
	case OrderStatusChanged:
		return TopicOrderStatusChanged
	case OrderCancelled:
		return TopicOrderCancelled
	default:
		return TopicOrderCreated
	}
}

// PartitionKey keeps all events of one order in publish order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Notifier publishes domain events after a transaction commits.
// Implementations are fire-and-forget: a publish failure is logged by the
// implementation and never propagates back into committed work.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload map[string]any)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, string, map[string]any) {}
