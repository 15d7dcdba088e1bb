// Package routing implements the routing engine (spec §4.G): pluggable
// strategies over the model descriptor table, selected by name with a
// configurable default.
package routing

import (
	"context"
	"sort"

	"goa.design/llmrouter/model"
)

// Options carries routing overrides passed from the request
// (routingOptions) or process configuration.
type Options struct {
	Strategy           string
	MaxLatencyMS       int
	MaxCostPer1K       float64
	PreferFree         bool
	ContextAware       bool
	CategoryMap        map[model.PromptType]string // type -> preferred model id
	ExcludedModels     []string
	FallbackStrategy   string
}

// Strategy picks one available descriptor given a classification and
// options. Strategy invocation never makes network calls (§4.G).
type Strategy interface {
	Name() string
	Select(classification model.Classification, opts Options, candidates []model.Descriptor) (model.Descriptor, bool)
}

// DescriptorStore supplies the current descriptor snapshot and
// per-model rolling latency, reloaded wholesale so readers never
// observe a partial update (§5).
type DescriptorStore interface {
	Snapshot() []model.Descriptor
	RollingLatencyMS(modelID string) (int, bool)
}

// Engine dispatches to a named Strategy, falling back to the configured
// default.
type Engine struct {
	store      DescriptorStore
	strategies map[string]Strategy
	defaultName string
}

// NewEngine constructs an Engine with the four baseline strategies plus
// round-robin registered, and defaultName selected as the default.
func NewEngine(store DescriptorStore, defaultName string) *Engine {
	e := &Engine{store: store, strategies: map[string]Strategy{}, defaultName: defaultName}
	for _, s := range []Strategy{
		&LowestLatency{},
		&LowestCost{},
		&BestModel{},
		&CategoryBased{},
		&RoundRobin{},
	} {
		e.Register(s)
	}
	return e
}

// Register adds or replaces a strategy.
func (e *Engine) Register(s Strategy) { e.strategies[s.Name()] = s }

// Route resolves a model for the given classification and request,
// honoring an explicit model id bypass and ties-break rule (§4.G): ties
// break by descriptor priority, then lexicographic model id.
func (e *Engine) Route(_ context.Context, explicitModelID string, classification model.Classification, opts Options) (model.Descriptor, bool) {
	all := e.store.Snapshot()

	if explicitModelID != "" {
		if d, ok := findAvailable(all, explicitModelID); ok {
			return d, true
		}
	}

	candidates := excludeAndFilter(all, opts.ExcludedModels)
	for i := range candidates {
		if ms, ok := e.store.RollingLatencyMS(candidates[i].ID); ok {
			candidates[i].LatencyMS = ms
		}
	}

	name := opts.Strategy
	if name == "" {
		name = e.defaultName
	}
	strat, ok := e.strategies[name]
	if !ok {
		return model.Descriptor{}, false
	}

	d, ok := strat.Select(classification, opts, candidates)
	if !ok && opts.FallbackStrategy != "" && opts.FallbackStrategy != name {
		if fb, ok2 := e.strategies[opts.FallbackStrategy]; ok2 {
			return fb.Select(classification, opts, candidates)
		}
	}
	return d, ok
}

func findAvailable(all []model.Descriptor, id string) (model.Descriptor, bool) {
	for _, d := range all {
		if d.ID == id && d.Available {
			return d, true
		}
	}
	return model.Descriptor{}, false
}

func excludeAndFilter(all []model.Descriptor, excluded []string) []model.Descriptor {
	ex := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		ex[id] = true
	}
	out := make([]model.Descriptor, 0, len(all))
	for _, d := range all {
		if !d.Available || ex[d.ID] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// breakTies sorts candidates by descending priority then ascending model
// id, the shared tie-break rule (§4.G).
func breakTies(candidates []model.Descriptor) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
}
