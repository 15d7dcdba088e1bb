package ratelimit

import (
	"context"
	"testing"

	"goa.design/llmrouter/model"
)

type stubAdapter struct {
	err  error
	resp model.Response
}

func (s *stubAdapter) ID() string { return "stub" }
func (s *stubAdapter) Generate(context.Context, model.Request) (model.Response, error) {
	return s.resp, s.err
}
func (s *stubAdapter) Stream(context.Context, model.Request) (<-chan model.StreamingChunk, error) {
	return nil, s.err
}

func TestLimiterPassesThroughOnSuccess(t *testing.T) {
	stub := &stubAdapter{resp: model.Response{Text: "ok"}}
	l := New(600000, 600000)
	wrapped := l.Wrap(stub)

	resp, err := wrapped.Generate(context.Background(), model.Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("got %q, want passthrough response", resp.Text)
	}
}

func TestLimiterBacksOffOnRateLimit(t *testing.T) {
	stub := &stubAdapter{err: model.NewRouterError(model.ErrModelRateLimit, "throttled", nil)}
	l := New(1000, 1000)
	wrapped := l.Wrap(stub)

	before := l.CurrentTPM()
	_, _ = wrapped.Generate(context.Background(), model.Request{Prompt: "hello"})
	if l.CurrentTPM() >= before {
		t.Fatalf("expected budget to shrink after a rate-limit error, before=%v after=%v", before, l.CurrentTPM())
	}
}

func TestLimiterProbesUpAfterSuccess(t *testing.T) {
	stub := &stubAdapter{resp: model.Response{}}
	l := New(1000, 2000)
	l.currentTPM = 500 // simulate a prior backoff
	l.setTPM(500)
	wrapped := l.Wrap(stub)

	before := l.CurrentTPM()
	_, _ = wrapped.Generate(context.Background(), model.Request{Prompt: "hello"})
	if l.CurrentTPM() <= before {
		t.Fatalf("expected budget to grow after a success, before=%v after=%v", before, l.CurrentTPM())
	}
}

func TestLimiterID(t *testing.T) {
	stub := &stubAdapter{}
	l := New(1000, 1000)
	if got := l.Wrap(stub).ID(); got != "stub" {
		t.Fatalf("got %q, want passthrough ID", got)
	}
}
