package classifier

import (
	"context"
	"strings"

	"goa.design/llmrouter/model"
)

// Rules is the default, enabled-by-default classifier implementation: it
// applies keyword and structural heuristics directly, scoring each
// PromptType by keyword ratio and picking the winner without any
// model-fitting step (§4.F).
type Rules struct {
	opts Options
}

// NewRules constructs a Rules classifier.
func NewRules(opts ...Option) *Rules {
	return &Rules{opts: newOptions(opts...)}
}

func (r *Rules) Classify(_ context.Context, prompt string) (model.Classification, error) {
	lower := strings.ToLower(prompt)
	f := extractStructural(prompt)

	bestType := model.TypeGeneral
	bestScore := 0.0
	for t := range keywordSets {
		if score := keywordRatio(lower, t); score > bestScore {
			bestScore, bestType = score, t
		}
	}

	complexity := deriveComplexity(f)
	promptTokens := model.EstimateTokens(prompt)
	completionTokens := int(float64(promptTokens) * completionMultiplier(bestType, complexity))

	priority := model.PriorityMedium
	switch {
	case complexity == model.ComplexityVeryComplex:
		priority = model.PriorityHigh
	case complexity == model.ComplexitySimple:
		priority = model.PriorityLow
	}

	confidence := 0.5 + bestScore/2
	c := model.Classification{
		Type:                      bestType,
		Complexity:                complexity,
		Features:                  structuralFeatureNames(f),
		Priority:                  priority,
		Confidence:                confidence,
		EstimatedPromptTokens:     promptTokens,
		EstimatedCompletionTokens: completionTokens,
	}
	r.opts.apply(&c)
	return c, nil
}
