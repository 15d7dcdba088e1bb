package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/llmrouter/model"
)

// descriptorDocument is the BSON shape stored for a single model
// descriptor, grounded on the field-per-tag convention in
// registry/store/mongo/mongo.go.
type descriptorDocument struct {
	ID            string   `bson:"_id"`
	Provider      string   `bson:"provider"`
	Capabilities  []string `bson:"capabilities"`
	CostPer1K     *float64 `bson:"cost_per_1k_tokens,omitempty"`
	Quality       float64  `bson:"quality"`
	ContextWindow int      `bson:"context_window"`
	LatencyMS     int      `bson:"latency_ms"`
	Available     bool     `bson:"available"`
	Priority      int      `bson:"priority"`
}

// MongoStore is the production-grade DescriptorStore backing (§3 "Model
// descriptors are reloaded every 15 minutes"), wrapping a mongo
// collection the way the teacher's features/run/mongo.Store wraps a
// lower-level client: a thin struct whose methods delegate to the
// driver.
type MongoStore struct {
	collection *mongo.Collection
	inner      *StaticStore
}

// NewMongoStore constructs a MongoStore over an existing collection. An
// initial Reload must be called (directly or via StartReloadLoop)
// before Snapshot returns anything.
func NewMongoStore(collection *mongo.Collection) (*MongoStore, error) {
	if collection == nil {
		return nil, errors.New("collection is required")
	}
	return &MongoStore{collection: collection, inner: NewStaticStore(nil)}, nil
}

// Reload fetches the full descriptor table from Mongo and atomically
// replaces the in-memory snapshot (§5: readers never observe a partial
// update).
func (s *MongoStore) Reload(ctx context.Context) error {
	cur, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	var docs []descriptorDocument
	if err := cur.All(ctx, &docs); err != nil {
		return err
	}

	descriptors := make([]model.Descriptor, 0, len(docs))
	for _, d := range docs {
		descriptors = append(descriptors, model.Descriptor{
			ID:            d.ID,
			Provider:      d.Provider,
			Capabilities:  d.Capabilities,
			CostPer1K:     d.CostPer1K,
			Quality:       d.Quality,
			ContextWindow: d.ContextWindow,
			LatencyMS:     d.LatencyMS,
			Available:     d.Available,
			Priority:      d.Priority,
		})
	}
	s.inner.Reload(descriptors)
	return nil
}

// Upsert stores or updates a single descriptor.
func (s *MongoStore) Upsert(ctx context.Context, d model.Descriptor) error {
	doc := descriptorDocument{
		ID: d.ID, Provider: d.Provider, Capabilities: d.Capabilities, CostPer1K: d.CostPer1K,
		Quality: d.Quality, ContextWindow: d.ContextWindow, LatencyMS: d.LatencyMS,
		Available: d.Available, Priority: d.Priority,
	}
	_, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: d.ID}}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Snapshot() []model.Descriptor { return s.inner.Snapshot() }

func (s *MongoStore) RecordLatency(modelID string, ms int) { s.inner.RecordLatency(modelID, ms) }

func (s *MongoStore) RollingLatencyMS(modelID string) (int, bool) {
	return s.inner.RollingLatencyMS(modelID)
}

// StartReloadLoop runs Reload once immediately and then on the spec's
// 15-minute cadence until ctx is canceled. A failed reload is reported to
// onError (when non-nil) and the previous snapshot remains in effect,
// matching the §5 "best-effort" treatment applied elsewhere to
// unreachable shared infrastructure.
func (s *MongoStore) StartReloadLoop(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	var once sync.Once
	once.Do(func() {
		if err := s.Reload(ctx); err != nil && onError != nil {
			onError(err)
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
