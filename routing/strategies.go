package routing

import (
	"sync"

	"goa.design/llmrouter/model"
)

// LowestLatency picks the available model with the smallest rolling
// average latency meeting MaxLatencyMS (§4.G). It ranks by each
// candidate's LatencyMS, which Engine.Route fills with the store's
// rolling average when samples exist.
type LowestLatency struct{}

func (s *LowestLatency) Name() string { return "lowest-latency" }

func (s *LowestLatency) Select(_ model.Classification, opts Options, candidates []model.Descriptor) (model.Descriptor, bool) {
	filtered := make([]model.Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if opts.MaxLatencyMS > 0 && d.LatencyMS > opts.MaxLatencyMS {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return model.Descriptor{}, false
	}
	breakTies(filtered)
	best := filtered[0]
	for _, d := range filtered[1:] {
		if d.LatencyMS < best.LatencyMS {
			best = d
		}
	}
	return best, true
}

// LowestCost picks the cheapest available model whose cost is within
// MaxCostPer1K, preferring free models when PreferFree is set (§4.G).
type LowestCost struct{}

func (s *LowestCost) Name() string { return "lowest-cost" }

func (s *LowestCost) Select(_ model.Classification, opts Options, candidates []model.Descriptor) (model.Descriptor, bool) {
	filtered := make([]model.Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if d.CostPer1K == nil {
			if opts.PreferFree {
				filtered = append([]model.Descriptor{d}, filtered...)
			} else {
				filtered = append(filtered, d)
			}
			continue
		}
		if opts.MaxCostPer1K > 0 && *d.CostPer1K > opts.MaxCostPer1K {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return model.Descriptor{}, false
	}
	breakTies(filtered)

	best := filtered[0]
	for _, d := range filtered[1:] {
		if cheaper(d, best, opts.PreferFree) {
			best = d
		}
	}
	return best, true
}

func cheaper(a, b model.Descriptor, preferFree bool) bool {
	aFree, bFree := a.CostPer1K == nil, b.CostPer1K == nil
	if preferFree && aFree != bFree {
		return aFree
	}
	if aFree && bFree {
		return false
	}
	if aFree != bFree {
		return !aFree // without PreferFree, a priced model ranks ahead of one with no listed cost
	}
	return *a.CostPer1K < *b.CostPer1K
}

// BestModel picks the highest-quality available model whose context
// window fits the estimated prompt tokens, when ContextAware is set
// (§4.G).
type BestModel struct{}

func (s *BestModel) Name() string { return "best-model" }

func (s *BestModel) Select(classification model.Classification, opts Options, candidates []model.Descriptor) (model.Descriptor, bool) {
	filtered := make([]model.Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if !d.Available {
			continue
		}
		if opts.ContextAware && d.ContextWindow > 0 && d.ContextWindow < classification.EstimatedPromptTokens {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return model.Descriptor{}, false
	}
	breakTies(filtered)

	best := filtered[0]
	for _, d := range filtered[1:] {
		if d.Quality > best.Quality {
			best = d
		}
	}
	return best, true
}

// CategoryBased picks by classification.Type using opts.CategoryMap,
// falling back otherwise (§4.G).
type CategoryBased struct{}

func (s *CategoryBased) Name() string { return "category-based" }

func (s *CategoryBased) Select(classification model.Classification, opts Options, candidates []model.Descriptor) (model.Descriptor, bool) {
	preferredID, ok := opts.CategoryMap[classification.Type]
	if ok {
		for _, d := range candidates {
			if d.ID == preferredID && d.Available {
				return d, true
			}
		}
	}
	// No mapping entry, or the mapped model isn't currently available:
	// fall back to best-model among the remaining candidates.
	return (&BestModel{}).Select(classification, opts, candidates)
}

// RoundRobin cycles through candidates in tie-break order, exercising a
// routing mode that special-cases no descriptor property (added beyond
// spec.md's four baseline strategies, mirroring the teacher's pattern of
// a minimal strategy alongside richer ones). A single instance is shared
// across all concurrent requests (routing.NewEngine registers one), so
// next is guarded by mu rather than left to race.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func (s *RoundRobin) Name() string { return "round-robin" }

func (s *RoundRobin) Select(_ model.Classification, _ Options, candidates []model.Descriptor) (model.Descriptor, bool) {
	if len(candidates) == 0 {
		return model.Descriptor{}, false
	}
	breakTies(candidates)
	s.mu.Lock()
	idx := s.next % len(candidates)
	s.next++
	s.mu.Unlock()
	return candidates[idx], true
}
