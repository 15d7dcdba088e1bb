package classifier

import (
	"context"
	"strings"

	"goa.design/llmrouter/model"
)

// ML is the second concrete classifier implementation: it combines
// extracted features (keyword-presence ratios plus structural features
// such as "?", code-fence, bullets, equations, and length buckets) into
// per-type scores and picks the arg-max, rather than Rules' single
// best-keyword-ratio-wins approach (§4.F).
type ML struct {
	opts Options
}

// NewML constructs an ML classifier.
func NewML(opts ...Option) *ML {
	return &ML{opts: newOptions(opts...)}
}

var allTypes = []model.PromptType{
	model.TypeCode, model.TypeCreative, model.TypeAnalytical, model.TypeFactual,
	model.TypeMathematical, model.TypeConversational, model.TypeGeneral,
}

func (m *ML) Classify(_ context.Context, prompt string) (model.Classification, error) {
	lower := strings.ToLower(prompt)
	f := extractStructural(prompt)

	scores := make(map[model.PromptType]float64, len(allTypes))
	for _, t := range allTypes {
		scores[t] = keywordRatio(lower, t) * 0.7
	}
	// Structural features nudge specific types independent of keywords.
	if f.hasCodeFence {
		scores[model.TypeCode] += 0.4
	}
	if f.hasEquation {
		scores[model.TypeMathematical] += 0.4
	}
	if f.hasQuestion {
		scores[model.TypeFactual] += 0.15
		scores[model.TypeAnalytical] += 0.1
	}
	if f.hasBullets {
		scores[model.TypeAnalytical] += 0.1
	}

	bestType, bestScore := model.TypeGeneral, 0.0
	for _, t := range allTypes {
		if scores[t] > bestScore {
			bestScore, bestType = scores[t], t
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

	c := model.Classification{
		Type:                      bestType,
		Complexity:                complexity,
		Features:                  structuralFeatureNames(f),
		Priority:                  priority,
		Confidence:                clampUnit(0.4 + bestScore),
		EstimatedPromptTokens:     promptTokens,
		EstimatedCompletionTokens: completionTokens,
	}
	m.opts.apply(&c)
	return c, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
