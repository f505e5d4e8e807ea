package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/GroundControl/internal/middleware"
	"github.com/Strob0t/GroundControl/internal/port/cache"
)

// mapStore is an in-memory cache.Reserver that records TTLs without expiring.
type mapStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	addErr error
	setErr error
}

var _ cache.Reserver = (*mapStore)(nil)

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return false, m.addErr
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

const (
	replayTTL = 10 * time.Minute
	claimTTL  = time.Minute
)

func submitHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	})
}

func post(h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	store := newMapStore()
	h := middleware.Idempotency(store, replayTTL, claimTTL)(submitHandler(&calls, http.StatusAccepted))

	first := post(h, "k1")
	second := post(h, "k1")

	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Error("expected content type to be replayed")
	}
	if ttl := store.ttls["idempotency:/api/v1/commands:k1"]; ttl != replayTTL {
		t.Errorf("stored response ttl = %v, want %v", ttl, replayTTL)
	}
}

func TestIdempotencyDistinctKeys(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := middleware.Idempotency(newMapStore(), replayTTL, claimTTL)(submitHandler(&calls, http.StatusAccepted))

	post(h, "a")
	post(h, "b")
	post(h, "")
	post(h, "")

	if calls.Load() != 4 {
		t.Errorf("handler called %d times, want 4", calls.Load())
	}
}

func TestIdempotencyFailureReleasesClaim(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	store := newMapStore()
	h := middleware.Idempotency(store, replayTTL, claimTTL)(submitHandler(&calls, http.StatusServiceUnavailable))

	post(h, "k1")
	post(h, "k1")

	if calls.Load() != 2 {
		t.Errorf("failed submissions must be retried, handler called %d times", calls.Load())
	}
	if n := store.len(); n != 0 {
		t.Errorf("store holds %d entries after failures, want 0", n)
	}
}

func TestIdempotencyConcurrentDuplicate(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		submitHandler(&calls, http.StatusAccepted).ServeHTTP(w, r)
	})
	store := newMapStore()
	h := middleware.Idempotency(store, replayTTL, claimTTL)(slow)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(h, "k1") }()
	<-entered

	dup := post(h, "k1")
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate in flight: status = %d, want 409", dup.Code)
	}
	if dup.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on an in-flight duplicate")
	}
	if ttl := store.ttls["idempotency:/api/v1/commands:k1"]; ttl != claimTTL {
		t.Errorf("claim ttl = %v, want %v", ttl, claimTTL)
	}

	close(release)
	first := <-done
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", first.Code)
	}

	after := post(h, "k1")
	if after.Code != http.StatusAccepted || after.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("after completion: %d replayed=%q, want replay", after.Code, after.Header().Get("Idempotent-Replayed"))
	}
	if calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", calls.Load())
	}
}

func TestIdempotencyParallelDuplicatesRunOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := middleware.Idempotency(newMapStore(), replayTTL, claimTTL)(submitHandler(&calls, http.StatusAccepted))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if rec := post(h, "burst"); rec.Code != http.StatusAccepted && rec.Code != http.StatusConflict {
				t.Errorf("status = %d, want 202 or 409", rec.Code)
			}
		})
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", calls.Load())
	}
}

func TestIdempotencyStoreErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*mapStore)
		wantCalls int32
	}{
		{"lookup error still claims", func(m *mapStore) { m.getErr = errors.New("kv down") }, 1},
		{"claim error runs undeduplicated", func(m *mapStore) { m.addErr = errors.New("kv down") }, 2},
		{"store error keeps the claim", func(m *mapStore) { m.setErr = errors.New("kv down") }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			store := newMapStore()
			tt.mutate(store)
			h := middleware.Idempotency(store, replayTTL, claimTTL)(submitHandler(&calls, http.StatusAccepted))

			if rec := post(h, "k1"); rec.Code != http.StatusAccepted {
				t.Errorf("status = %d, want 202", rec.Code)
			}
			post(h, "k1")
			if calls.Load() != tt.wantCalls {
				t.Errorf("handler called %d times, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestIdempotencyKeyTooLong(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := middleware.Idempotency(newMapStore(), replayTTL, claimTTL)(submitHandler(&calls, http.StatusAccepted))

	if rec := post(h, strings.Repeat("k", 200)); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("handler must not run for a rejected key")
	}
}
