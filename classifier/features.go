package classifier

import (
	"regexp"
	"strings"

	"goa.design/llmrouter/model"
)

var (
	codeFence     = regexp.MustCompile("```")
	bulletLine    = regexp.MustCompile(`(?m)^\s*[-*]\s+`)
	equationMark  = regexp.MustCompile(`[=^]|\\frac|\\sum|\\int`)
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
)

// structuralFeatures holds the cheap lexical signals both classifier
// implementations derive from raw prompt text (§4.F: "?", code-fence,
// bullets, equations, length buckets).
type structuralFeatures struct {
	hasQuestion  bool
	hasCodeFence bool
	hasBullets   bool
	hasEquation  bool
	length       int
	words        int
	sentences    int
}

func extractStructural(prompt string) structuralFeatures {
	words := strings.Fields(prompt)
	sentences := sentenceSplit.Split(strings.TrimSpace(prompt), -1)
	nonEmptySentences := 0
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			nonEmptySentences++
		}
	}
	return structuralFeatures{
		hasQuestion:  strings.Contains(prompt, "?"),
		hasCodeFence: codeFence.MatchString(prompt),
		hasBullets:   bulletLine.MatchString(prompt),
		hasEquation:  equationMark.MatchString(prompt),
		length:       len(prompt),
		words:        len(words),
		sentences:    max(nonEmptySentences, 1), //nolint:predeclared // builtin max (Go 1.21+)
	}
}

// keywordSets back both the rules-based type classification and the
// ML-based per-type scoring.
var keywordSets = map[model.PromptType][]string{
	model.TypeCode:          {"function", "code", "bug", "compile", "class", "variable", "algorithm", "debug", "refactor", "syntax"},
	model.TypeCreative:      {"story", "poem", "imagine", "creative", "write a", "fiction", "character", "plot"},
	model.TypeAnalytical:    {"analyze", "compare", "evaluate", "why", "implications", "trade-off", "pros and cons"},
	model.TypeFactual:       {"what is", "who is", "when did", "define", "fact", "history of"},
	model.TypeMathematical:  {"equation", "solve", "derivative", "integral", "theorem", "proof", "calculate"},
	model.TypeConversational: {"hi", "hello", "how are you", "thanks", "chat"},
}

// keywordRatio returns the fraction of keywords for t found in prompt
// (case-insensitive substring match), used by the ML implementation's
// per-type scoring.
func keywordRatio(promptLower string, t model.PromptType) float64 {
	words := keywordSets[t]
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(promptLower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// deriveComplexity computes complexity from a weighted average of
// length, sentence count, and word count (§4.F), shared by both
// implementations.
func deriveComplexity(f structuralFeatures) model.Complexity {
	lengthScore := bucket(f.length, 80, 300, 800)
	wordScore := bucket(f.words, 15, 60, 150)
	sentenceScore := bucket(f.sentences, 2, 5, 10)

	score := 0.5*lengthScore + 0.3*wordScore + 0.2*sentenceScore
	switch {
	case score < 0.25:
		return model.ComplexitySimple
	case score < 0.55:
		return model.ComplexityMedium
	case score < 0.8:
		return model.ComplexityComplex
	default:
		return model.ComplexityVeryComplex
	}
}

// bucket maps v into [0,1] using two thresholds, low and high, with a
// midpoint for a third "medium" threshold, producing a smooth 0..1
// complexity contribution.
func bucket(v, low, mid, high int) float64 {
	switch {
	case v <= low:
		return 0.15
	case v <= mid:
		return 0.45
	case v <= high:
		return 0.7
	default:
		return 1.0
	}
}

// completionMultiplier implements the type x complexity multiplier
// applied to the prompt-token estimate (§4.F).
func completionMultiplier(t model.PromptType, c model.Complexity) float64 {
	base := map[model.Complexity]float64{
		model.ComplexitySimple:      0.5,
		model.ComplexityMedium:      1.0,
		model.ComplexityComplex:     1.8,
		model.ComplexityVeryComplex: 2.5,
	}[c]

	switch t {
	case model.TypeCode, model.TypeMathematical:
		return base * 1.3
	case model.TypeCreative:
		return base * 1.6
	case model.TypeConversational:
		return base * 0.6
	default:
		return base
	}
}

func structuralFeatureNames(f structuralFeatures) []string {
	var out []string
	if f.hasQuestion {
		out = append(out, "question")
	}
	if f.hasCodeFence {
		out = append(out, "code-fence")
	}
	if f.hasBullets {
		out = append(out, "bullets")
	}
	if f.hasEquation {
		out = append(out, "equation")
	}
	return out
}
