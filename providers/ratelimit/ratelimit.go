// Package ratelimit wraps a providers.Adapter with an adaptive per-provider
// token-bucket limiter, grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter (golang.org/x/time/rate,
// AIMD backoff/probe on provider rate-limit signals). This sits in front
// of the circuit breaker in the adapter call path (SPEC_FULL.md §4.D): it
// is not a new pipeline stage, just a guard the adapter registry wraps
// providers with.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/providers"
)

// Limiter applies an AIMD-style adaptive token bucket in front of an
// Adapter. It estimates the token cost of each request from the prompt
// text, blocks callers until capacity is available, and shrinks its
// effective tokens-per-minute budget when the wrapped adapter reports a
// MODEL_RATE_LIMIT error, probing back upward on every success.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs a Limiter with an initial and maximum tokens-per-minute
// budget. maxTPM is clamped to initialTPM if it is smaller.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recovery,
	}
}

// Wrap returns an Adapter that enforces l before delegating Generate and
// Stream to next.
func (l *Limiter) Wrap(next providers.Adapter) providers.Adapter {
	return &limitedAdapter{next: next, limiter: l}
}

type limitedAdapter struct {
	next    providers.Adapter
	limiter *Limiter
}

func (a *limitedAdapter) ID() string { return a.next.ID() }

func (a *limitedAdapter) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	if err := a.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := a.next.Generate(ctx, req)
	a.limiter.observe(err)
	return resp, err
}

func (a *limitedAdapter) Stream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error) {
	if err := a.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	ch, err := a.next.Stream(ctx, req)
	a.limiter.observe(err)
	return ch, err
}

func (l *Limiter) wait(ctx context.Context, req model.Request) error {
	tokens := model.EstimateTokens(req.Text()) + 50 // small buffer for framing/system content
	return l.limiter.WaitN(ctx, tokens)
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if re, ok := model.AsRouterError(err); ok && re.Kind == model.ErrModelRateLimit {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.setTPM(next)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.setTPM(next)
}

// setTPM applies a new budget to the underlying rate.Limiter. Caller
// must hold l.mu.
func (l *Limiter) setTPM(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// CurrentTPM reports the limiter's current effective budget, for
// metrics/introspection.
func (l *Limiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}
