package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// HeaderName carries the client-supplied idempotency key.
	HeaderName = "Idempotency-Key"
	// replayHeader marks a response replayed from the store.
	replayHeader = "X-Idempotent-Replay"
)

type middlewareConfig struct {
	ttl   time.Duration
	clock func() time.Time
	log   *zap.Logger
}

type Option func(*middlewareConfig)

func WithTTL(ttl time.Duration) Option {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(cfg *middlewareConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// Middleware deduplicates retried POST requests carrying an Idempotency-Key
// header. Requests without the header bypass the gate entirely. The key is
// claimed atomically before the handler runs, so of N concurrent retries at
// most one executes the guarded operation; the rest either replay the stored
// response or get 409 while the winner is still in flight.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{ttl: DefaultTTL, clock: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				writeGateError(w, http.StatusInternalServerError, "internal_error", "unable to read request body")
				return
			}
			fingerprint := Fingerprint(r.Method, r.URL.Path, body)
			now := cfg.clock().UTC()

			reservation, err := store.Reserve(r.Context(), key, fingerprint, now, cfg.ttl)
			if errors.Is(err, ErrFingerprintMismatch) {
				writeGateError(w, http.StatusConflict, "duplicate_request",
					"idempotency key already used for a different request")
				return
			}
			if err != nil {
				cfg.log.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
				writeGateError(w, http.StatusInternalServerError, "internal_error", "idempotency store unavailable")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				record := reservation.Record
				cfg.log.Info("idempotent replay", zap.String("key", key), zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayHeader, "true")
				w.WriteHeader(record.ResponseStatus)
				_, _ = w.Write(record.ResponseBody)
				return
			case ReservationStatePending:
				writeGateError(w, http.StatusConflict, "duplicate_request",
					"another request with this idempotency key is in progress")
				return
			}

			rec := &teeRecorder{parent: w}
			next.ServeHTTP(rec, r)

			// Only successful outcomes are worth replaying; a failed
			// attempt releases the claim so the client may retry.
			if rec.status >= 200 && rec.status < 300 {
				if err := store.SaveResponse(r.Context(), key, fingerprint, rec.status, rec.body.Bytes(), cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.log.Error("idempotency save failed", zap.String("key", key), zap.Error(err))
					_ = store.Release(r.Context(), key, fingerprint)
				}
				return
			}
			if err := store.Release(r.Context(), key, fingerprint); err != nil {
				cfg.log.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func writeGateError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{
		"code":    code,
		"message": message,
	}})
}

// teeRecorder writes through to the client while keeping a copy of the
// status and body for the store.
type teeRecorder struct {
	parent http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (t *teeRecorder) Header() http.Header { return t.parent.Header() }

func (t *teeRecorder) WriteHeader(status int) {
	if t.status == 0 {
		t.status = status
	}
	t.parent.WriteHeader(status)
}

func (t *teeRecorder) Write(b []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	t.body.Write(b)
	return t.parent.Write(b)
}

func (t *teeRecorder) Flush() {
	if f, ok := t.parent.(http.Flusher); ok {
		f.Flush()
	}
}
