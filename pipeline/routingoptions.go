package pipeline

import (
	"goa.design/llmrouter/model"
	"goa.design/llmrouter/routing"
)

// applyRoutingOverrides merges a request's routingOptions map (spec
// §6 POST /prompt body) into opts. Unknown keys and wrong-typed values
// are ignored rather than rejected, matching the classifier's
// Options.apply clamp-don't-reject posture (§4.F).
func applyRoutingOverrides(opts *routing.Options, raw map[string]any) {
	if raw == nil {
		return
	}
	if v, ok := raw["strategy"].(string); ok && v != "" {
		opts.Strategy = v
	}
	if v, ok := asFloat(raw["maxLatencyMs"]); ok {
		opts.MaxLatencyMS = int(v)
	}
	if v, ok := asFloat(raw["maxCostPer1k"]); ok {
		opts.MaxCostPer1K = v
	}
	if v, ok := raw["preferFree"].(bool); ok {
		opts.PreferFree = v
	}
	if v, ok := raw["contextAware"].(bool); ok {
		opts.ContextAware = v
	}
	if v, ok := raw["fallbackStrategy"].(string); ok {
		opts.FallbackStrategy = v
	}
	if rawList, ok := raw["excludedModels"].([]any); ok {
		excluded := make([]string, 0, len(rawList))
		for _, v := range rawList {
			if s, ok := v.(string); ok {
				excluded = append(excluded, s)
			}
		}
		opts.ExcludedModels = excluded
	}
	if rawMap, ok := raw["categoryMap"].(map[string]any); ok {
		categoryMap := make(map[model.PromptType]string, len(rawMap))
		for k, v := range rawMap {
			if s, ok := v.(string); ok {
				categoryMap[model.PromptType(k)] = s
			}
		}
		opts.CategoryMap = categoryMap
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
