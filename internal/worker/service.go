package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/events"
	kafkax "github.com/vendalog/order-engine/internal/kafka"
	"github.com/vendalog/order-engine/internal/redisx"
)

// Service consumes order events and maintains the Redis order-status read
// cache. Events are deduplicated by event id so redelivery is harmless.
type Service struct {
	Redis       *redis.Client
	ServiceName string
	Log         *zap.Logger
}

// HandleEvent is mounted as the kafka consumer handler for all order topics.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// A malformed message will never parse; log and commit past it.
		s.Log.Warn("malformed event, skipping", zap.Error(err))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	seen, err := redisx.Exists(ctx, s.Redis, dkey)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	payload, err := kafkax.UnwrapPayload[map[string]any](env.Payload)
	if err != nil {
		s.Log.Warn("malformed payload, skipping", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	orderID, _ := payload["order_id"].(string)
	status := statusFor(env.EventType, payload)
	if orderID != "" && status != "" {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		b, _ := json.Marshal(map[string]string{"status": status})
		if err := s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
			return err
		}
	}

	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		return err
	}
	s.Log.Info("event processed",
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("order_id", orderID),
	)
	return nil
}

func statusFor(eventType string, payload map[string]any) string {
	switch eventType {
	case events.OrderCreated:
		st, _ := payload["status"].(string)
		return st
	case events.OrderStatusChanged:
		st, _ := payload["to"].(string)
		return st
	case events.OrderCancelled:
		return "cancelled"
	default:
		return ""
	}
}
