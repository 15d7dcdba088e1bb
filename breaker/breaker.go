// Package breaker implements the per-model circuit breaker (spec §4.C): a
// 3-state gate backed by a shared store, falling back to closed when the
// store is unreachable.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/llmrouter/model"
)

// openTTL is the TTL applied to an "open" circuit state entry (§3, §6).
const openTTL = 60 * time.Second

// halfOpenAfter is how long a circuit stays open before read-side logic
// treats it as half-open (§4.C): no background job needed, the
// transition is computed at read time from the stored timestamp.
const halfOpenAfter = 30 * time.Second

// Store is the shared backing store a Breaker reads and writes circuit
// state through. Implementations: breaker.RedisStore, breaker.RMapStore.
type Store interface {
	// Get returns the raw JSON value for key, or ("", false) if absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// state is the JSON shape stored under a circuit key (§6 shared-store
// keys: value JSON {status, timestamp}).
type state struct {
	Status    model.CircuitStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

// Breaker gates calls to a single provider/model/stream combination.
type Breaker struct {
	store Store
	log   logger
}

type logger interface {
	Warn(ctx context.Context, msg string, keyvals ...any)
}

// New constructs a Breaker backed by store. A nil store makes the breaker
// always report closed (best-effort degradation, §4.C).
func New(store Store, log logger) *Breaker {
	return &Breaker{store: store, log: log}
}

// Key returns the shared-store key for a provider/model/stream
// combination (§6): "circuit_breaker:<provider>:<modelId>[:stream]".
func Key(provider, modelID string, streaming bool) string {
	if streaming {
		return fmt.Sprintf("circuit_breaker:%s:%s:stream", provider, modelID)
	}
	return fmt.Sprintf("circuit_breaker:%s:%s", provider, modelID)
}

// Status reports the current circuit status for key, applying the
// read-side open→half-open transition (§4.C). If the store is
// unreachable or the key is absent, the circuit is closed.
func (b *Breaker) Status(ctx context.Context, key string) model.CircuitStatus {
	st, ok := b.read(ctx, key)
	if !ok {
		return model.CircuitClosed
	}
	if st.Status == model.CircuitOpen && time.Since(st.Timestamp) > halfOpenAfter {
		return model.CircuitHalfOpen
	}
	return st.Status
}

// Allow reports whether a call through this circuit may proceed. When the
// circuit is open, the caller must fail immediately with
// MODEL_UNAVAILABLE before attempting any network call (§4.C).
func (b *Breaker) Allow(ctx context.Context, key string) bool {
	return b.Status(ctx, key) != model.CircuitOpen
}

// RecordSuccess resets the circuit to closed. A success observed while
// half-open closes the circuit (§4.C); a success while already closed is
// a no-op, avoiding a needless delete.
func (b *Breaker) RecordSuccess(ctx context.Context, key string) {
	status := b.Status(ctx, key)
	if status == model.CircuitClosed {
		return
	}
	if b.store == nil {
		return
	}
	if err := b.store.Delete(ctx, key); err != nil && b.log != nil {
		b.log.Warn(ctx, "breaker: failed to clear circuit state", "key", key, "error", err.Error())
	}
}

// RecordFailure trips the circuit open if kind warrants it
// (model.AdapterErrorKind.TripsCircuit, §4.C). Failures that don't trip the
// breaker (rate limit, server error — handled by the retrier) leave the
// circuit state untouched, except that a failure observed while
// half-open always re-opens it.
func (b *Breaker) RecordFailure(ctx context.Context, key string, kind model.AdapterErrorKind) {
	if b.store == nil {
		return
	}
	current := b.Status(ctx, key)
	if !kind.TripsCircuit() && current != model.CircuitHalfOpen {
		return
	}

	st := state{Status: model.CircuitOpen, Timestamp: time.Now()}
	buf, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, key, string(buf), openTTL); err != nil && b.log != nil {
		b.log.Warn(ctx, "breaker: failed to trip circuit", "key", key, "error", err.Error())
	}
}

func (b *Breaker) read(ctx context.Context, key string) (state, bool) {
	if b.store == nil {
		return state{}, false
	}
	raw, ok, err := b.store.Get(ctx, key)
	if err != nil {
		if b.log != nil {
			b.log.Warn(ctx, "breaker: store unreachable, defaulting to closed", "key", key, "error", err.Error())
		}
		return state{}, false
	}
	if !ok {
		return state{}, false
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return state{}, false
	}
	return st, true
}
