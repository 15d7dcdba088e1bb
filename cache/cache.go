// Package cache implements the result cache (spec §4.E): fingerprint
// keyed, TTL-scoped storage of normalized responses with pluggable
// strategy modes.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/llmrouter/model"
)

// Store persists serialized cache entries. Implementations: MemoryStore,
// RedisStore.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// defaultBaseTTL is the default base TTL (§4.E, §6 REDIS_CACHE_TTL
// default).
const defaultBaseTTL = 300 * time.Second

// minWritePromptLen is the threshold below which CacheMinimal skips
// writes for "very short prompts" (§4.E).
const minWritePromptLen = 8

// Cache applies the mode semantics from §4.E on top of a Store.
type Cache struct {
	store   Store
	baseTTL time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithBaseTTL overrides the default base TTL. Requests carry no TTL of
// their own, so this base applies to every entry (halved for simple
// prompts, see ttlFor).
func WithBaseTTL(d time.Duration) Option {
	return func(c *Cache) { c.baseTTL = d }
}

// New constructs a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, baseTTL: defaultBaseTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup attempts a cache read for req under its configured strategy. It
// returns (response, true) on a hit; the returned response's Cached field
// is always set to true (§4.E: "on hit, set cached = true").
func (c *Cache) Lookup(ctx context.Context, req model.Request) (model.Response, bool) {
	if req.CacheStrategy == model.CacheNone {
		return model.Response{}, false
	}

	key := model.CacheKey(model.Fingerprint(req))
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return model.Response{}, false
	}

	var resp model.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return model.Response{}, false
	}
	resp.Cached = true
	return resp, true
}

// Store writes resp under req's fingerprint, subject to mode and
// eligibility rules (§4.E): writes occur only for successful, non-cached,
// non-streaming responses, and CacheMinimal skips very short prompts.
func (c *Cache) Store(ctx context.Context, req model.Request, resp model.Response, classification model.Classification) {
	if req.CacheStrategy == model.CacheNone || req.Stream || resp.Cached {
		return
	}
	if req.CacheStrategy == model.CacheMinimal && len(req.Text()) < minWritePromptLen {
		return
	}

	ttl := c.ttlFor(req, classification)
	key := model.CacheKey(model.Fingerprint(req))

	buf, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, key, string(buf), ttl)
}

// ttlFor derives the TTL for an entry per §4.E: base TTL from config,
// halved when the classification complexity is simple.
func (c *Cache) ttlFor(req model.Request, classification model.Classification) time.Duration {
	base := c.baseTTL
	if classification.Complexity == model.ComplexitySimple {
		return base / 2
	}
	return base
}
