package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/GroundControl/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyKey    = 128
	maxIdempotencyBody   = 1 << 20 // 1 MB
	idempotencyPrefix    = "idempotency:"
)

// idempotencyEntry is either an in-flight claim or a replayable response.
type idempotencyEntry struct {
	Pending    bool                `json:"pending,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
}

var pendingClaim, _ = json.Marshal(idempotencyEntry{Pending: true})

// Idempotency returns middleware that deduplicates POSTs carrying an
// Idempotency-Key, so a retried command submission does not create a second
// decision.
//
// The first request claims the key atomically in store for claimTTL. A
// duplicate arriving while it runs gets 409; one arriving after it succeeded
// replays the stored 2xx response for ttl. A failed request releases its
// claim so the client may retry with the same key. When the store is
// unreachable requests run without deduplication.
func Idempotency(store cache.Reserver, ttl, claimTTL time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeIdempotencyError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			storeKey := idempotencyPrefix + r.URL.Path + ":" + key
			ctx := r.Context()

			if replayStored(ctx, w, store, storeKey) {
				return
			}

			claimed, err := store.Add(ctx, storeKey, pendingClaim, claimTTL)
			if err != nil {
				slog.WarnContext(ctx, "idempotency: claim failed, running without deduplication", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				// Lost the race to a concurrent duplicate.
				if !replayStored(ctx, w, store, storeKey) {
					writeInProgress(w)
				}
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			// The client may already be gone; the claim must still settle.
			settle := context.WithoutCancel(ctx)
			if rec.statusCode < 200 || rec.statusCode >= 300 {
				if err := store.Delete(settle, storeKey); err != nil {
					slog.WarnContext(ctx, "idempotency: failed to release claim", "key", key, "error", err)
				}
				return
			}
			storeResponse(settle, store, storeKey, rec, w.Header().Values("Content-Type"), ttl)
		})
	}
}

// replayStored writes the stored outcome for storeKey: the response, or 409
// for a claim still in flight. It reports whether it wrote anything.
func replayStored(ctx context.Context, w http.ResponseWriter, store cache.Cache, storeKey string) bool {
	data, found, err := store.Get(ctx, storeKey)
	if err != nil {
		slog.WarnContext(ctx, "idempotency: lookup failed", "key", storeKey, "error", err)
		return false
	}
	if !found {
		return false
	}
	var cached idempotencyEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		slog.WarnContext(ctx, "idempotency: corrupt entry", "key", storeKey)
		return false
	}
	if cached.Pending {
		writeInProgress(w)
		return true
	}
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// storeResponse replaces the claim with a replayable 2xx response. When the
// response cannot be kept the claim stays and lapses after its own TTL, so
// duplicates keep getting 409 rather than running the command again.
func storeResponse(ctx context.Context, store cache.Cache, storeKey string, rec *responseRecorder, contentType []string, ttl time.Duration) {
	if rec.body.Len() > maxIdempotencyBody {
		slog.WarnContext(ctx, "idempotency: response too large to replay", "key", storeKey, "bytes", rec.body.Len())
		return
	}
	payload, err := json.Marshal(idempotencyEntry{
		StatusCode: rec.statusCode,
		Headers:    map[string][]string{"Content-Type": contentType},
		Body:       rec.body.Bytes(),
	})
	if err != nil {
		return
	}
	if err := store.Set(ctx, storeKey, payload, ttl); err != nil {
		slog.WarnContext(ctx, "idempotency: failed to store response", "key", storeKey, "error", err)
	}
}

func writeInProgress(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeIdempotencyError(w, http.StatusConflict, "a request with this idempotency key is still in progress")
}

func writeIdempotencyError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
