package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"goa.design/llmrouter/model"
)

type recordingAlerter struct {
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, key string, count int) {
	a.alerts = append(a.alerts, key)
}

func fixtureCandidates() []model.Descriptor {
	return []model.Descriptor{
		{ID: "low-priority", Priority: 1},
		{ID: "high-priority", Priority: 10},
		{ID: "mid-priority", Priority: 5},
	}
}

func TestAttemptTriesHighestPriorityFirst(t *testing.T) {
	c := NewController(nil)
	var tried []string
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		tried = append(tried, d.ID)
		return model.Response{ModelUsed: d.ID}, nil
	}
	primary := model.Descriptor{ID: "primary"}
	resp, used, err := c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used.ID != "high-priority" {
		t.Fatalf("got %s, want high-priority selected first", used.ID)
	}
	if len(tried) != 1 || tried[0] != "high-priority" {
		t.Fatalf("expected only the first (highest priority) candidate tried, got %v", tried)
	}
	_ = resp
}

func TestAttemptFallsThroughOnFailure(t *testing.T) {
	c := NewController(nil)
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		if d.ID == "high-priority" {
			return model.Response{}, errors.New("boom")
		}
		return model.Response{ModelUsed: d.ID}, nil
	}
	primary := model.Descriptor{ID: "primary"}
	_, used, err := c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used.ID != "mid-priority" {
		t.Fatalf("got %s, want mid-priority after high-priority failed", used.ID)
	}
}

func TestAttemptRespectsFallbackLevels(t *testing.T) {
	c := NewController(nil)
	attempts := 0
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		attempts++
		return model.Response{}, errors.New("boom")
	}
	primary := model.Descriptor{ID: "primary"}
	_, _, err := c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 2})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	if exhausted.Attempts != 2 {
		t.Fatalf("got Attempts=%d, want 2", exhausted.Attempts)
	}
}

func TestAttemptReturnsDegradedResponseWhenAllFail(t *testing.T) {
	c := NewController(nil)
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		return model.Response{}, errors.New("boom")
	}
	primary := model.Descriptor{ID: "primary"}
	resp, _, err := c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 3, DegradedMode: true})
	if err != nil {
		t.Fatalf("unexpected error in degraded mode: %v", err)
	}
	if resp.Tokens.Total != 0 {
		t.Fatalf("expected zero token usage in degraded response")
	}
	if resp.Text == "" {
		t.Fatalf("expected an explanatory message")
	}
}

func TestAttemptAlertsAtThreshold(t *testing.T) {
	alerter := &recordingAlerter{}
	c := NewController(alerter)
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		return model.Response{ModelUsed: d.ID}, nil
	}
	primary := model.Descriptor{ID: "primary"}
	for i := 0; i < attemptAlertThreshold; i++ {
		if _, _, err := c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("expected exactly one alert at threshold, got %d", len(alerter.alerts))
	}
}

func TestAttemptDoesNotReAlertBeforeReset(t *testing.T) {
	alerter := &recordingAlerter{}
	c := NewController(alerter)
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		return model.Response{ModelUsed: d.ID}, nil
	}
	primary := model.Descriptor{ID: "primary"}
	for i := 0; i < attemptAlertThreshold+5; i++ {
		_, _, _ = c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 1})
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("expected alert suppressed until hourly reset, got %d alerts", len(alerter.alerts))
	}
}

func TestAutoDegradedModeActivatesAtFailedThreshold(t *testing.T) {
	c := NewController(nil)
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		return model.Response{}, errors.New("boom")
	}
	primary := model.Descriptor{ID: "primary"}
	for i := 0; i < failedAlertThreshold; i++ {
		_, _, _ = c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 1, AutoDegraded: true})
	}
	if !c.DegradedMode() {
		t.Fatalf("expected process-wide degraded mode active after failed threshold crossed")
	}
}

func TestCountersResetHourly(t *testing.T) {
	alerter := &recordingAlerter{}
	c := NewController(alerter)
	start := time.Now()
	c.now = func() time.Time { return start }
	gen := func(_ context.Context, d model.Descriptor) (model.Response, error) {
		return model.Response{ModelUsed: d.ID}, nil
	}
	primary := model.Descriptor{ID: "primary"}
	for i := 0; i < attemptAlertThreshold; i++ {
		_, _, _ = c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 1})
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("expected one alert before reset, got %d", len(alerter.alerts))
	}
	c.now = func() time.Time { return start.Add(2 * time.Hour) }
	for i := 0; i < attemptAlertThreshold; i++ {
		_, _, _ = c.Attempt(context.Background(), primary, fixtureCandidates(), gen, Options{FallbackLevels: 1})
	}
	if len(alerter.alerts) != 2 {
		t.Fatalf("expected a second alert after hourly reset, got %d", len(alerter.alerts))
	}
}
