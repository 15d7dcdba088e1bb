package providers

import (
	"strings"
	"sync"

	"goa.design/llmrouter/model"
)

// Registry resolves a model id to a registered Adapter by provider
// prefix (§4.B Provider Inference): gpt*/openai* -> openai, claude*/
// anthropic* -> anthropic, lmstudio*/local* -> local, bedrock*/
// amazon.* -> bedrock, unknown -> the configured fallback (openai by
// convention). Resolutions are memoized per model id since the prefix
// table does not change at runtime.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Adapter
	prefixes []prefixRule
	fallback string
	resolved sync.Map // model id -> adapter name
}

type prefixRule struct {
	prefixes []string
	adapter  string
}

// NewRegistry constructs a Registry with the baseline provider
// inference table. fallback names the adapter used when no prefix
// matches.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		byName: make(map[string]Adapter),
		prefixes: []prefixRule{
			{prefixes: []string{"gpt", "openai", "o1", "o3"}, adapter: "openai"},
			{prefixes: []string{"claude", "anthropic"}, adapter: "anthropic"},
			{prefixes: []string{"lmstudio", "local"}, adapter: "local"},
			{prefixes: []string{"bedrock", "amazon."}, adapter: "bedrock"},
		},
		fallback: fallback,
	}
}

// Register associates a name (matching one used in the prefix table,
// e.g. "openai") with a concrete Adapter implementation.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = a
}

// Resolve returns the Adapter responsible for modelID, per the
// §4.B inference rules, falling back to the registry default.
func (r *Registry) Resolve(modelID string) (Adapter, bool) {
	name := r.adapterNameFor(modelID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

func (r *Registry) adapterNameFor(modelID string) string {
	if cached, ok := r.resolved.Load(modelID); ok {
		return cached.(string)
	}
	lower := strings.ToLower(modelID)
	name := r.fallback
	for _, rule := range r.prefixes {
		for _, p := range rule.prefixes {
			if strings.HasPrefix(lower, p) {
				name = rule.adapter
				r.resolved.Store(modelID, name)
				return name
			}
		}
	}
	r.resolved.Store(modelID, name)
	return name
}

// ForDescriptor resolves using a descriptor's explicit Provider field
// when set, falling back to model-id prefix inference otherwise.
func (r *Registry) ForDescriptor(d model.Descriptor) (Adapter, bool) {
	if d.Provider != "" {
		r.mu.RLock()
		a, ok := r.byName[d.Provider]
		r.mu.RUnlock()
		if ok {
			return a, true
		}
	}
	return r.Resolve(d.ID)
}
