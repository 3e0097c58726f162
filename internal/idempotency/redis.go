package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:order:"

// RedisStore backs the gate with Redis. The claim uses SET NX so that of N
// concurrent requests with the same fresh key exactly one wins.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(key string) string { return keyPrefix + key }

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	b, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}

	claimed, err := s.client.SetNX(ctx, s.key(key), b, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency claim: %w", err)
	}
	if claimed {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		// The holder expired or released between SETNX and GET; treat as
		// pending and let the client retry.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency read: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency decode: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, nil
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, status int, body []byte, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{
		Key:            key,
		Fingerprint:    fingerprint,
		Status:         StatusCompleted,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
