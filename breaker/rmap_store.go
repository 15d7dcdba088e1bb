package breaker

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/pulse/rmap"
)

// RMapStore is an alternative circuit-breaker backing store for
// deployments already running a Pulse pool, replicating circuit state
// across nodes without standing up Redis. Grounded on
// registry/health_tracker.go's use of rmap.Map for cross-node shared
// state with timestamp-based staleness instead of native TTL: since
// rmap has no per-key expiry, this store embeds the write time in the
// stored value and expires lazily on read.
type RMapStore struct {
	m *rmap.Map
}

// NewRMapStore wraps an existing Pulse replicated map.
func NewRMapStore(m *rmap.Map) *RMapStore {
	return &RMapStore{m: m}
}

type rmapEntry struct {
	Value     string    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
}

func (s *RMapStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok := s.m.Get(key)
	if !ok {
		return "", false, nil
	}
	var entry rmapEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", false, nil
	}
	if entry.TTL > 0 && time.Since(entry.StoredAt) > entry.TTL {
		_, _ = s.m.Delete(ctx, key)
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *RMapStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	buf, err := json.Marshal(rmapEntry{Value: value, StoredAt: time.Now(), TTL: ttl})
	if err != nil {
		return err
	}
	_, err = s.m.Set(ctx, key, string(buf))
	return err
}

func (s *RMapStore) Delete(ctx context.Context, key string) error {
	_, err := s.m.Delete(ctx, key)
	return err
}
