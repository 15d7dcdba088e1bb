package breaker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"testing"

	"goa.design/llmrouter/model"
)

// memStore is an in-process Store fake for tests; it never errors,
// matching the most common path in RedisStore/RMapStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func TestBreakerDefaultsClosed(t *testing.T) {
	b := New(newMemStore(), nil)
	key := Key("openai", "gpt-4", false)
	if b.Status(context.Background(), key) != model.CircuitClosed {
		t.Fatal("expected unknown key to report closed")
	}
	if !b.Allow(context.Background(), key) {
		t.Fatal("closed circuit should allow calls")
	}
}

func TestBreakerNilStoreIsClosed(t *testing.T) {
	b := New(nil, nil)
	key := Key("openai", "gpt-4", false)
	if b.Status(context.Background(), key) != model.CircuitClosed {
		t.Fatal("unreachable store should behave as best-effort closed")
	}
}

func TestBreakerTripsOnAuthFailure(t *testing.T) {
	ctx := context.Background()
	b := New(newMemStore(), nil)
	key := Key("openai", "gpt-4", false)

	b.RecordFailure(ctx, key, model.AdapterErrAuthentication)

	if b.Status(ctx, key) != model.CircuitOpen {
		t.Fatal("authentication failure should trip the circuit open")
	}
	if b.Allow(ctx, key) {
		t.Fatal("open circuit must not allow calls")
	}
}

func TestBreakerDoesNotTripOnServerError(t *testing.T) {
	ctx := context.Background()
	b := New(newMemStore(), nil)
	key := Key("openai", "gpt-4", false)

	b.RecordFailure(ctx, key, model.AdapterErrServerError)

	if b.Status(ctx, key) != model.CircuitClosed {
		t.Fatal("server_error alone (handled by the retrier) should not trip the breaker")
	}
}

func TestBreakerHalfOpenAfterElapsed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b := New(store, nil)
	key := Key("openai", "gpt-4", false)

	// Simulate a trip that happened 31 seconds ago.
	st := state{Status: model.CircuitOpen, Timestamp: time.Now().Add(-31 * time.Second)}
	buf, _ := json.Marshal(st)
	_ = store.Set(ctx, key, string(buf), 0)

	if got := b.Status(ctx, key); got != model.CircuitHalfOpen {
		t.Fatalf("expected half-open after 30s, got %s", got)
	}
}

func TestBreakerSuccessInHalfOpenCloses(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b := New(store, nil)
	key := Key("openai", "gpt-4", false)

	st := state{Status: model.CircuitOpen, Timestamp: time.Now().Add(-31 * time.Second)}
	buf, _ := json.Marshal(st)
	_ = store.Set(ctx, key, string(buf), 0)

	b.RecordSuccess(ctx, key)

	if got := b.Status(ctx, key); got != model.CircuitClosed {
		t.Fatalf("success while half-open should close the circuit, got %s", got)
	}
}

func TestBreakerFailureInHalfOpenReopens(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b := New(store, nil)
	key := Key("openai", "gpt-4", false)

	st := state{Status: model.CircuitOpen, Timestamp: time.Now().Add(-31 * time.Second)}
	buf, _ := json.Marshal(st)
	_ = store.Set(ctx, key, string(buf), 0)

	// Even a non-tripping kind re-opens the circuit when observed half-open.
	b.RecordFailure(ctx, key, model.AdapterErrServerError)

	if got := b.Status(ctx, key); got != model.CircuitOpen {
		t.Fatalf("failure while half-open should re-open the circuit, got %s", got)
	}
}
