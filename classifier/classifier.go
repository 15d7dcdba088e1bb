// Package classifier assigns a Classification to a prompt (spec §4.F).
// Two concrete implementations are offered behind the Classifier
// interface: Rules (keyword/structural heuristics) and ML (feature-score
// arg-max); both share the complexity/token-estimation logic in this
// file. Neither implementation has direct grounding in the teacher (an
// agent framework with no prompt classifier); the shape — a small
// interface plus functional Options — follows the Options pattern used
// throughout the teacher's features/model/*/client.go constructors.
package classifier

import (
	"context"

	"goa.design/llmrouter/model"
)

// Classifier turns prompt text into a Classification.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (model.Classification, error)
}

// Options configures a Classifier's clamping/forcing behavior (§4.F).
type Options struct {
	MinConfidence    float64
	MaxConfidence    float64
	ForcedFeatures   []string
	ForcedPriority   string
}

// Option mutates Options.
type Option func(*Options)

// WithConfidenceRange clamps reported confidence to [min, max].
func WithConfidenceRange(min, max float64) Option {
	return func(o *Options) { o.MinConfidence, o.MaxConfidence = min, max }
}

// WithForcedFeatures appends features to every classification's feature
// set regardless of what heuristics detected.
func WithForcedFeatures(features ...string) Option {
	return func(o *Options) { o.ForcedFeatures = append(o.ForcedFeatures, features...) }
}

// WithForcedPriority overrides the derived priority unconditionally.
func WithForcedPriority(priority string) Option {
	return func(o *Options) { o.ForcedPriority = priority }
}

func newOptions(opts ...Option) Options {
	o := Options{MinConfidence: 0, MaxConfidence: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) ptr() *Options { return &o }

func (o *Options) clamp(c float64) float64 {
	if c < o.MinConfidence {
		return o.MinConfidence
	}
	if c > o.MaxConfidence {
		return o.MaxConfidence
	}
	return c
}

func (o *Options) apply(c *model.Classification) {
	c.Confidence = o.clamp(c.Confidence)
	if len(o.ForcedFeatures) > 0 {
		c.Features = append(c.Features, o.ForcedFeatures...)
	}
	if o.ForcedPriority != "" {
		c.Priority = model.Priority(o.ForcedPriority)
	}
}
