// Package fallback implements the alternative-model ladder, fallback
// metrics, and degraded-mode toggle (spec §4.I). Counter and alert
// bookkeeping is grounded on the teacher's registry health tracker
// "observe, then notify once" idiom; cause accumulation across
// attempts mirrors retry.ExhaustedError.
package fallback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"goa.design/llmrouter/model"
)

const (
	attemptAlertThreshold = 3
	failedAlertThreshold  = 2
	counterResetInterval  = time.Hour
)

// Generator is the adapter call used to generate a response for one
// candidate model.Descriptor. The controller does not know about providers
// directly; the caller supplies a closure per candidate.
type Generator func(ctx context.Context, d model.Descriptor) (model.Response, error)

// Alerter receives fallback alerts (spec §4.I Monitoring). Implementations
// typically forward to telemetry.Logger.Warn or a paging system.
type Alerter interface {
	Alert(ctx context.Context, key string, count int)
}

// Options configures one Attempt call.
type Options struct {
	FallbackLevels int
	DegradedMode   bool // per-request override; OR'd with the controller's process-wide flag
	AutoDegraded   bool
}

// ExhaustedError is returned when every fallback candidate failed and
// degraded mode is not in effect (spec's ALL_MODELS_FAILED), carrying
// the primary id and the final cause — the same shape retry.ExhaustedError
// uses for retry exhaustion.
type ExhaustedError struct {
	PrimaryModelID string
	Attempts       int
	LastErr        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fallback: all %d alternative(s) to %s failed: %v", e.Attempts, e.PrimaryModelID, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Controller runs the fallback ladder and tracks process-wide
// counters/alerts/degraded-mode state (spec §5 "process-wide state,
// must be guarded; reset hourly").
type Controller struct {
	alerter Alerter

	mu              sync.Mutex
	counters        map[string]int // "primary->fallback" or "...-failed"
	alerted         map[string]bool
	degradedUntil   time.Time // process-wide auto-degraded-mode expiry
	lastReset       time.Time
	now             func() time.Time
}

// NewController constructs a Controller. alerter may be nil to disable
// alerting.
func NewController(alerter Alerter) *Controller {
	return &Controller{
		alerter:   alerter,
		counters:  make(map[string]int),
		alerted:   make(map[string]bool),
		lastReset: time.Now(),
		now:       time.Now,
	}
}

// DegradedMode reports whether the process-wide auto-degraded-mode flag
// is currently active.
func (c *Controller) DegradedMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeReset()
	return c.now().Before(c.degradedUntil)
}

// Attempt runs the fallback ladder for a failed primary, per spec §4.I.
// candidates is the full available-model list excluding the primary,
// already filtered by the caller's circuit/availability checks;
// Attempt sorts it by descriptor priority descending and tries up to
// FallbackLevels of them.
func (c *Controller) Attempt(ctx context.Context, primary model.Descriptor, candidates []model.Descriptor, gen Generator, opts Options) (model.Response, model.Descriptor, error) {
	ordered := append([]model.Descriptor(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	levels := opts.FallbackLevels
	if levels <= 0 || levels > len(ordered) {
		levels = len(ordered)
	}

	var lastErr error
	for i := 0; i < levels; i++ {
		candidate := ordered[i]
		c.recordAttempt(ctx, primary.ID, candidate.ID)
		resp, err := gen(ctx, candidate)
		if err == nil {
			return resp, candidate, nil
		}
		lastErr = err
		c.recordFailure(ctx, primary.ID, candidate.ID, opts.AutoDegraded)
	}

	if opts.DegradedMode || c.DegradedMode() {
		return degradedResponse(primary.ID), model.Descriptor{}, nil
	}
	return model.Response{}, model.Descriptor{}, &ExhaustedError{PrimaryModelID: primary.ID, Attempts: levels, LastErr: lastErr}
}

func degradedResponse(primaryModelID string) model.Response {
	return model.Response{
		Text:      "The service is currently operating in degraded mode and could not complete this request.",
		ModelUsed: primaryModelID,
		Tokens:    model.TokenUsage{},
	}
}

func (c *Controller) recordAttempt(ctx context.Context, primary, fallback string) {
	key := primary + "->" + fallback
	c.mu.Lock()
	c.maybeReset()
	c.counters[key]++
	count := c.counters[key]
	alreadyAlerted := c.alerted[key]
	if count >= attemptAlertThreshold && !alreadyAlerted {
		c.alerted[key] = true
	}
	c.mu.Unlock()

	if count >= attemptAlertThreshold && !alreadyAlerted && c.alerter != nil {
		c.alerter.Alert(ctx, key, count)
	}
}

func (c *Controller) recordFailure(ctx context.Context, primary, fallback string, autoDegraded bool) {
	key := primary + "->" + fallback + "-failed"
	c.mu.Lock()
	c.maybeReset()
	c.counters[key]++
	count := c.counters[key]
	alreadyAlerted := c.alerted[key]
	if count >= failedAlertThreshold && !alreadyAlerted {
		c.alerted[key] = true
	}
	crossedForDegrade := autoDegraded && count >= failedAlertThreshold
	if crossedForDegrade {
		c.degradedUntil = c.nextReset()
	}
	c.mu.Unlock()

	if count >= failedAlertThreshold && !alreadyAlerted && c.alerter != nil {
		c.alerter.Alert(ctx, key, count)
	}
}

// maybeReset clears counters/alerts/degraded-mode once an hour has
// elapsed since the last reset (spec §4.I "cleared hourly"). Caller
// must hold c.mu.
func (c *Controller) maybeReset() {
	now := c.now()
	if now.Sub(c.lastReset) < counterResetInterval {
		return
	}
	c.counters = make(map[string]int)
	c.alerted = make(map[string]bool)
	c.degradedUntil = time.Time{}
	c.lastReset = now
}

// nextReset returns the time at which the current hourly window ends.
// Caller must hold c.mu.
func (c *Controller) nextReset() time.Time {
	return c.lastReset.Add(counterResetInterval)
}
