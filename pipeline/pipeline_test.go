package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"goa.design/llmrouter/breaker"
	"goa.design/llmrouter/cache"
	"goa.design/llmrouter/classifier"
	"goa.design/llmrouter/fallback"
	"goa.design/llmrouter/model"
	"goa.design/llmrouter/normalize"
	"goa.design/llmrouter/providers"
	"goa.design/llmrouter/retry"
	"goa.design/llmrouter/routing"
)

// memBreakerStore is an in-process breaker.Store fake, equivalent to
// breaker's own memStore but defined here since that one is unexported.
type memBreakerStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemBreakerStore() *memBreakerStore { return &memBreakerStore{data: map[string]string{}} }

func (s *memBreakerStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memBreakerStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memBreakerStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// staticStore is a fixed routing.DescriptorStore fake.
type staticStore struct {
	descriptors []model.Descriptor
}

func (s staticStore) Snapshot() []model.Descriptor { return s.descriptors }
func (s staticStore) RollingLatencyMS(string) (int, bool) { return 0, false }

// stubClassifier always returns a fixed classification.
type stubClassifier struct {
	classification model.Classification
	err            error
}

func (c stubClassifier) Classify(context.Context, string) (model.Classification, error) {
	return c.classification, c.err
}

// scriptedAdapter returns responses/errors from a queue, one per call,
// so a test can exercise retry-then-success or always-fail behavior.
type scriptedAdapter struct {
	name    string
	mu      sync.Mutex
	results []adapterResult
	calls   int
}

type adapterResult struct {
	resp model.Response
	err  error
}

func (a *scriptedAdapter) ID() string { return a.name }

func (a *scriptedAdapter) Generate(_ context.Context, req model.Request) (model.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls >= len(a.results) {
		return model.Response{}, errors.New("scriptedAdapter: out of scripted results")
	}
	r := a.results[a.calls]
	a.calls++
	if r.err != nil {
		return model.Response{}, r.err
	}
	resp := r.resp
	resp.ModelUsed = req.ModelID
	return resp, nil
}

func (a *scriptedAdapter) Stream(context.Context, model.Request) (<-chan model.StreamingChunk, error) {
	return nil, errors.New("scriptedAdapter: Stream not implemented")
}

func noBackoffRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

// buildOrchestrator wires a minimal Orchestrator around one or more
// scripted adapters registered under their own descriptor ids, with a
// fresh in-memory cache and breaker.
func buildOrchestrator(t *testing.T, descriptors []model.Descriptor, adapters map[string]*scriptedAdapter, cfg Config) *Orchestrator {
	t.Helper()

	adapterRegistry := providers.NewRegistry("primary")
	for id, a := range adapters {
		adapterRegistry.Register(id, a)
	}

	for i := range descriptors {
		if descriptors[i].Provider == "" {
			descriptors[i].Provider = descriptors[i].ID
		}
	}

	deps := Deps{
		Classifier:  stubClassifier{classification: model.Classification{Type: model.TypeGeneral, Complexity: model.ComplexityMedium}},
		Routing:     routing.NewEngine(staticStore{descriptors: descriptors}, "best-model"),
		Descriptors: staticStore{descriptors: descriptors},
		Normalizers: normalize.NewRegistry(),
		Adapters:    adapterRegistry,
		Cache:       cache.New(cache.NewMemoryStore()),
		Breaker:     breaker.New(newMemBreakerStore(), nil),
		Fallback:    fallback.NewController(nil),
	}
	return New(deps, cfg)
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.UnaryRetry = noBackoffRetry(3)
	cfg.StreamRetry = noBackoffRetry(2)
	cfg.RequestTimeout = 0
	return cfg
}

func TestRunHappyPathDispatchesToRoutedModel(t *testing.T) {
	descriptors := []model.Descriptor{
		{ID: "primary", Available: true, Priority: 10, CostPer1K: ptrF(2.0)},
	}
	adapter := &scriptedAdapter{name: "primary", results: []adapterResult{
		{resp: model.Response{Text: "hello back", Tokens: model.NewTokenUsage(10, 5)}},
	}}
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{"primary": adapter}, baseConfig())

	resp, err := o.Run(context.Background(), model.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelUsed != "primary" {
		t.Fatalf("got model %q, want primary", resp.ModelUsed)
	}
	if resp.Tokens.Total != 15 {
		t.Fatalf("got total tokens %d, want 15", resp.Tokens.Total)
	}
	if resp.Cost == nil || *resp.Cost != 0.03 {
		t.Fatalf("got cost %v, want 0.03", resp.Cost)
	}
	if resp.RequestID == "" {
		t.Fatal("expected a generated request id")
	}
	if resp.Classification == nil {
		t.Fatal("expected classification to be attached to the response")
	}
}

func TestRunRejectsBlankPrompt(t *testing.T) {
	o := buildOrchestrator(t, nil, nil, baseConfig())
	_, err := o.Run(context.Background(), model.Request{Prompt: "   "})
	re, ok := model.AsRouterError(err)
	if !ok || re.Kind != model.ErrInvalidRequest {
		t.Fatalf("got %v, want INVALID_REQUEST", err)
	}
}

func TestRunServesCacheHitWithoutDispatching(t *testing.T) {
	descriptors := []model.Descriptor{{ID: "primary", Available: true}}
	adapter := &scriptedAdapter{name: "primary", results: []adapterResult{
		{resp: model.Response{Text: "first", Tokens: model.NewTokenUsage(1, 1)}},
	}}
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{"primary": adapter}, baseConfig())

	req := model.Request{Prompt: "cache me"}
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	resp2, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if !resp2.Cached {
		t.Fatal("expected second identical request to be served from cache")
	}
	if adapter.calls != 1 {
		t.Fatalf("expected adapter to be called once, got %d", adapter.calls)
	}
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	descriptors := []model.Descriptor{{ID: "primary", Available: true}}
	adapter := &scriptedAdapter{name: "primary", results: []adapterResult{
		{err: model.NewRouterError(model.ErrModelServerError, "boom", nil)},
		{resp: model.Response{Text: "recovered", Tokens: model.NewTokenUsage(2, 2)}},
	}}
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{"primary": adapter}, baseConfig())

	resp, err := o.Run(context.Background(), model.Request{Prompt: "retry me"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "recovered" {
		t.Fatalf("got %q, want recovered", resp.Text)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected 2 calls (1 retry), got %d", adapter.calls)
	}
}

func TestRunFallsBackWhenPrimaryCircuitIsOpen(t *testing.T) {
	descriptors := []model.Descriptor{
		{ID: "primary", Available: true, Priority: 10},
		{ID: "backup", Available: true, Priority: 5},
	}
	primaryAdapter := &scriptedAdapter{name: "primary"}
	backupAdapter := &scriptedAdapter{name: "backup", results: []adapterResult{
		{resp: model.Response{Text: "from backup", Tokens: model.NewTokenUsage(1, 1)}},
	}}
	cfg := baseConfig()
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{
		"primary": primaryAdapter, "backup": backupAdapter,
	}, cfg)

	// Trip the primary circuit directly via the same breaker/key scheme
	// dispatchOne uses, simulating an already-open circuit without
	// burning through retries first.
	key := breaker.Key("primary", "primary", false)
	o.deps.Breaker.RecordFailure(context.Background(), key, model.AdapterErrAuthentication)

	resp, err := o.Run(context.Background(), model.Request{ModelID: "primary", Prompt: "route me"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelUsed != "backup" {
		t.Fatalf("got model %q, want backup", resp.ModelUsed)
	}
	if primaryAdapter.calls != 0 {
		t.Fatalf("expected primary adapter never called while circuit is open, got %d calls", primaryAdapter.calls)
	}
}

func TestRunFallbackDisabledReturnsModelUnavailable(t *testing.T) {
	descriptors := []model.Descriptor{
		{ID: "primary", Available: true},
		{ID: "backup", Available: true},
	}
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{
		"primary": {name: "primary"}, "backup": {name: "backup"},
	}, baseConfig())
	o.cfg.FallbackEnabled = false

	key := breaker.Key("primary", "primary", false)
	o.deps.Breaker.RecordFailure(context.Background(), key, model.AdapterErrAuthentication)

	_, err := o.Run(context.Background(), model.Request{ModelID: "primary", Prompt: "no fallback"})
	re, ok := model.AsRouterError(err)
	if !ok || re.Kind != model.ErrModelUnavailable {
		t.Fatalf("got %v, want MODEL_UNAVAILABLE", err)
	}
}

func TestRunAllModelsFailedWhenFallbackLadderExhausted(t *testing.T) {
	descriptors := []model.Descriptor{
		{ID: "primary", Available: true, Priority: 10},
		{ID: "backup", Available: true, Priority: 5},
	}
	primaryAdapter := &scriptedAdapter{name: "primary"}
	backupAdapter := &scriptedAdapter{name: "backup", results: []adapterResult{
		{err: model.NewRouterError(model.ErrModelAuthentication, "bad key", nil)},
	}}
	o := buildOrchestrator(t, descriptors, map[string]*scriptedAdapter{
		"primary": primaryAdapter, "backup": backupAdapter,
	}, baseConfig())

	key := breaker.Key("primary", "primary", false)
	o.deps.Breaker.RecordFailure(context.Background(), key, model.AdapterErrAuthentication)

	_, err := o.Run(context.Background(), model.Request{ModelID: "primary", Prompt: "exhaust me"})
	re, ok := model.AsRouterError(err)
	if !ok || re.Kind != model.ErrAllModelsFailed {
		t.Fatalf("got %v, want ALL_MODELS_FAILED", err)
	}
}

// streamingAdapter emits a fixed chunk sequence from Stream and never
// answers Generate.
type streamingAdapter struct {
	name   string
	chunks []model.StreamingChunk
	err    error
}

func (a *streamingAdapter) ID() string { return a.name }

func (a *streamingAdapter) Generate(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, errors.New("streamingAdapter: Generate not implemented")
}

func (a *streamingAdapter) Stream(context.Context, model.Request) (<-chan model.StreamingChunk, error) {
	if a.err != nil {
		return nil, a.err
	}
	ch := make(chan model.StreamingChunk, len(a.chunks))
	for _, c := range a.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestRunStreamRelaysChunksAndStampsModelID(t *testing.T) {
	descriptors := []model.Descriptor{{ID: "primary", Available: true}}
	adapterRegistry := providers.NewRegistry("primary")
	adapterRegistry.Register("primary", &streamingAdapter{name: "primary", chunks: []model.StreamingChunk{
		{Chunk: "hel"}, {Chunk: "lo", Done: true, FinishReason: "stop"},
	}})

	deps := Deps{
		Classifier:  stubClassifier{classification: model.Classification{Type: model.TypeGeneral, Complexity: model.ComplexityMedium}},
		Routing:     routing.NewEngine(staticStore{descriptors: descriptors}, "best-model"),
		Descriptors: staticStore{descriptors: descriptors},
		Normalizers: normalize.NewRegistry(),
		Adapters:    adapterRegistry,
		Cache:       cache.New(cache.NewMemoryStore()),
		Breaker:     breaker.New(newMemBreakerStore(), nil),
		Fallback:    fallback.NewController(nil),
	}
	o := New(deps, baseConfig())

	ch, err := o.RunStream(context.Background(), model.Request{Prompt: "stream me"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []string
	for c := range ch {
		if c.ModelID != "primary" {
			t.Fatalf("got model id %q, want primary", c.ModelID)
		}
		got = append(got, c.Chunk)
	}
	if len(got) != 2 || got[0] != "hel" || got[1] != "lo" {
		t.Fatalf("got chunks %v", got)
	}
}

func TestRunStreamReturnsModelUnavailableWhenCircuitOpen(t *testing.T) {
	descriptors := []model.Descriptor{{ID: "primary", Available: true}}
	adapterRegistry := providers.NewRegistry("primary")
	adapterRegistry.Register("primary", &streamingAdapter{name: "primary"})

	deps := Deps{
		Classifier:  stubClassifier{classification: model.Classification{Type: model.TypeGeneral, Complexity: model.ComplexityMedium}},
		Routing:     routing.NewEngine(staticStore{descriptors: descriptors}, "best-model"),
		Descriptors: staticStore{descriptors: descriptors},
		Normalizers: normalize.NewRegistry(),
		Adapters:    adapterRegistry,
		Cache:       cache.New(cache.NewMemoryStore()),
		Breaker:     breaker.New(newMemBreakerStore(), nil),
		Fallback:    fallback.NewController(nil),
	}
	o := New(deps, baseConfig())

	key := breaker.Key("primary", "primary", true)
	o.deps.Breaker.RecordFailure(context.Background(), key, model.AdapterErrAuthentication)

	_, err := o.RunStream(context.Background(), model.Request{ModelID: "primary", Prompt: "stream me"})
	re, ok := model.AsRouterError(err)
	if !ok || re.Kind != model.ErrModelUnavailable {
		t.Fatalf("got %v, want MODEL_UNAVAILABLE", err)
	}
}

func ptrF(f float64) *float64 { return &f }
