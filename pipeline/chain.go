package pipeline

import (
	"context"

	"goa.design/llmrouter/model"
)

// StepDispatcher resolves and dispatches a single chain step for
// prompt, returning the normalized response produced by whichever
// model answered it (spec §4.J "Model chain"). The orchestrator's
// resolveAndDispatch satisfies this signature.
type StepDispatcher func(ctx context.Context, req model.Request, classification model.Classification) (model.Response, model.ProcessingTime, error)

// ChainRunner executes the two-step model chain: run step 1 against
// step1Req, feed its output text as step 2's prompt, and combine the
// two responses. Two implementations exist: InProcessChain (default, a
// plain sequential call) and temporalchain.Runner (durable, survives a
// process restart between steps).
type ChainRunner interface {
	Run(ctx context.Context, step1Req, step2ReqTemplate model.Request, classification model.Classification, dispatch StepDispatcher) (model.Response, error)
}

// InProcessChain runs both chain steps as ordinary sequential calls
// within the handling goroutine, matching spec.md §5's "per-request
// work is single-flowed" scheduling model.
type InProcessChain struct{}

// Run executes step1Req then step2ReqTemplate (with its Prompt replaced
// by step 1's output text), joining response text with a blank line,
// model ids with " -> ", and summing token usage (spec §4.J). A step 1
// failure propagates as an error since nothing has been accumulated
// yet; a step 2 failure returns step 1's response alone — "whatever was
// accumulated" per spec.md §4.J.
func (InProcessChain) Run(ctx context.Context, step1Req, step2ReqTemplate model.Request, classification model.Classification, dispatch StepDispatcher) (model.Response, error) {
	step1, timing1, err := dispatch(ctx, step1Req, classification)
	if err != nil {
		return model.Response{}, err
	}

	step2Req := step2ReqTemplate
	step2Req.Prompt = step1.Text
	step2Req.Messages = nil
	step2, timing2, err := dispatch(ctx, step2Req, classification)
	if err != nil {
		return withChainTiming(step1, timing1), nil
	}

	combined := model.Response{
		Text:      joinChainText(step1.Text, step2.Text),
		ModelUsed: step1.ModelUsed + " -> " + step2.ModelUsed,
		Tokens:    model.NewTokenUsage(step1.Tokens.Prompt+step2.Tokens.Prompt, step1.Tokens.Completion+step2.Tokens.Completion),
		ToolCalls: append(append([]model.ToolCall(nil), step1.ToolCalls...), step2.ToolCalls...),
	}
	combined.Cost = sumCost(step1.Cost, step2.Cost)
	combined.ProcessingTime = sumTiming(timing1, timing2)
	return combined, nil
}

func joinChainText(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n\n" + b
}

func sumCost(a, b *float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	var total float64
	if a != nil {
		total += *a
	}
	if b != nil {
		total += *b
	}
	return &total
}

func sumTiming(a, b model.ProcessingTime) model.ProcessingTime {
	return model.ProcessingTime{
		Routing:         a.Routing + b.Routing,
		Normalization:   a.Normalization + b.Normalization,
		ModelGeneration: a.ModelGeneration + b.ModelGeneration,
	}
}

func withChainTiming(resp model.Response, t model.ProcessingTime) model.Response {
	resp.ProcessingTime.Routing = t.Routing
	resp.ProcessingTime.Normalization = t.Normalization
	resp.ProcessingTime.ModelGeneration = t.ModelGeneration
	return resp
}

// runChain invokes the configured ChainRunner, pinning each hop to its
// configured model id when one is set (spec.md's "e.g. best-reasoning
// -> best-writing"); an unset id defers to ordinary routing for that
// hop.
func (o *Orchestrator) runChain(ctx context.Context, req model.Request, classification model.Classification) (model.Response, error) {
	step1Req := req
	if o.cfg.ChainStep1ID != "" {
		step1Req.ModelID = o.cfg.ChainStep1ID
	}
	step2Req := req
	if o.cfg.ChainStep2ID != "" {
		step2Req.ModelID = o.cfg.ChainStep2ID
	} else {
		step2Req.ModelID = ""
	}
	return o.deps.Chain.Run(ctx, step1Req, step2Req, classification, o.resolveAndDispatch)
}
