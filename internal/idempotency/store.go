package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL is how long completed records are retained.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	// StatusPending means a request has claimed the key but not yet
	// stored a response.
	StatusPending Status = "pending"
	// StatusCompleted means the stored response can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of attempting to claim a key.
type ReservationState int

const (
	// ReservationStateNew: the claim succeeded, the caller may execute.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted: a previous response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending: another request holds the claim right now.
	ReservationStatePending
)

// Record is the cached result for an idempotency key.
type Record struct {
	Key            string    `json:"key"`
	Fingerprint    string    `json:"fingerprint"`
	Status         Status    `json:"status"`
	ResponseStatus int       `json:"response_status,omitempty"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Reservation struct {
	State  ReservationState
	Record Record
}

// ErrFingerprintMismatch is returned when a key is reused with a different
// request payload.
var ErrFingerprintMismatch = errors.New("idempotency key reused for a different request")

// Store persists idempotency claims and responses. Reserve must be atomic:
// of N concurrent calls with the same fresh key exactly one observes
// ReservationStateNew. That atomic claim is what keeps a retried CreateOrder
// from committing twice.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, status int, body []byte, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// Fingerprint hashes the request identity so that key reuse with a
// different payload is detectable.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
