// Package temporalchain is the durable alternative to
// pipeline.InProcessChain (spec SPEC_FULL.md §4.J "durable chain
// option"): the two-step model chain becomes a two-activity Temporal
// workflow, so a chain already past step 1 survives a worker restart
// instead of losing the in-flight hop. Grounded on the teacher's
// runtime/agent/engine/temporal package, trimmed to the single
// workflow/activity pair this chain needs instead of that package's
// general-purpose engine.Engine registration surface.
package temporalchain

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/pipeline"
)

const (
	workflowName  = "llmrouter.ModelChain"
	step1Activity = "llmrouter.ChainStep1"
	step2Activity = "llmrouter.ChainStep2"
)

// stepInput is the serializable payload carried into a chain activity.
// Temporal requires workflow/activity arguments to round-trip through
// its payload codec (JSON by default), so the request/classification
// pair travels as plain data rather than the closures InProcessChain
// uses directly.
type stepInput struct {
	Request        model.Request
	Classification model.Classification
}

// Activities binds the process-wide dispatcher a Temporal worker calls
// into for each chain hop. One Activities value is registered per
// worker at startup; Dispatch is the same function the in-process
// chain would have used (cmd/router binds Orchestrator.DispatchStep),
// bound once rather than threaded through each workflow execution —
// Temporal activities are looked up by name against a worker's
// registrations, not passed as call-time closures.
type Activities struct {
	Dispatch pipeline.StepDispatcher
}

// Step1 and Step2 are identical activity bodies; they are registered
// under distinct names so the workflow's two ExecuteActivity calls are
// individually observable (separate retry/timeout history) in the
// Temporal UI.
func (a *Activities) Step1(ctx context.Context, in stepInput) (model.Response, error) {
	return a.dispatch(ctx, in)
}

func (a *Activities) Step2(ctx context.Context, in stepInput) (model.Response, error) {
	return a.dispatch(ctx, in)
}

func (a *Activities) dispatch(ctx context.Context, in stepInput) (model.Response, error) {
	resp, timing, err := a.Dispatch(ctx, in.Request, in.Classification)
	if err != nil {
		return model.Response{}, err
	}
	resp.ProcessingTime = timing
	return resp, nil
}

// ChainWorkflow is the Temporal workflow definition: execute step 1,
// feed its text into step 2's prompt, combine the two responses per
// the same rules as InProcessChain.Run (spec §4.J). Registered under
// workflowName.
func ChainWorkflow(ctx workflow.Context, step1Req, step2ReqTemplate model.Request, classification model.Classification) (model.Response, error) {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the router's own retry.Do already governs adapter-level retries
		},
	}
	actx := workflow.WithActivityOptions(ctx, opts)

	var step1 model.Response
	if err := workflow.ExecuteActivity(actx, step1Activity, stepInput{Request: step1Req, Classification: classification}).Get(ctx, &step1); err != nil {
		return model.Response{}, err
	}

	step2Req := step2ReqTemplate
	step2Req.Prompt = step1.Text
	step2Req.Messages = nil

	var step2 model.Response
	if err := workflow.ExecuteActivity(actx, step2Activity, stepInput{Request: step2Req, Classification: classification}).Get(ctx, &step2); err != nil {
		return step1, nil // step 2 failed: return whatever step 1 accumulated, per spec.md §4.J
	}

	return combine(step1, step2), nil
}

func combine(step1, step2 model.Response) model.Response {
	text := step1.Text
	switch {
	case step1.Text == "":
		text = step2.Text
	case step2.Text != "":
		text = step1.Text + "\n\n" + step2.Text
	}
	resp := model.Response{
		Text:      text,
		ModelUsed: step1.ModelUsed + " -> " + step2.ModelUsed,
		Tokens:    model.NewTokenUsage(step1.Tokens.Prompt+step2.Tokens.Prompt, step1.Tokens.Completion+step2.Tokens.Completion),
		ToolCalls: append(append([]model.ToolCall(nil), step1.ToolCalls...), step2.ToolCalls...),
	}
	if step1.Cost != nil || step2.Cost != nil {
		var total float64
		if step1.Cost != nil {
			total += *step1.Cost
		}
		if step2.Cost != nil {
			total += *step2.Cost
		}
		resp.Cost = &total
	}
	resp.ProcessingTime = model.ProcessingTime{
		Routing:         step1.ProcessingTime.Routing + step2.ProcessingTime.Routing,
		Normalization:   step1.ProcessingTime.Normalization + step2.ProcessingTime.Normalization,
		ModelGeneration: step1.ProcessingTime.ModelGeneration + step2.ProcessingTime.ModelGeneration,
	}
	return resp
}

// Runner implements pipeline.ChainRunner by executing ChainWorkflow on
// a Temporal cluster and waiting synchronously for its result, so
// callers see the same blocking Run(...) contract InProcessChain
// offers even though the chain now executes as a durable workflow.
type Runner struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
}

// NewRunner registers ChainWorkflow and acts's two activities on a
// worker for taskQueue, starts the worker, and returns a Runner. The
// caller owns c's lifecycle (close it on shutdown); Runner.Close stops
// the worker this constructor started.
func NewRunner(c client.Client, taskQueue string, acts *Activities) (*Runner, error) {
	if c == nil {
		return nil, fmt.Errorf("temporalchain: a temporal client is required")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("temporalchain: a task queue is required")
	}
	if acts == nil || acts.Dispatch == nil {
		return nil, fmt.Errorf("temporalchain: activities with a bound dispatcher are required")
	}

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(ChainWorkflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(acts.Step1, activity.RegisterOptions{Name: step1Activity})
	w.RegisterActivityWithOptions(acts.Step2, activity.RegisterOptions{Name: step2Activity})

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("temporalchain: start worker: %w", err)
	}

	return &Runner{client: c, worker: w, taskQueue: taskQueue}, nil
}

// Run starts ChainWorkflow and blocks for its result, satisfying
// pipeline.ChainRunner. The dispatch parameter is accepted for
// interface compatibility with pipeline.InProcessChain but unused:
// Temporal activities run against the Activities.Dispatch bound at
// NewRunner time, since a worker's registered activities cannot be
// swapped per call.
func (r *Runner) Run(ctx context.Context, step1Req, step2ReqTemplate model.Request, classification model.Classification, _ pipeline.StepDispatcher) (model.Response, error) {
	opts := client.StartWorkflowOptions{
		ID:        "chain-" + step1Req.RequestID,
		TaskQueue: r.taskQueue,
	}
	run, err := r.client.ExecuteWorkflow(ctx, opts, workflowName, step1Req, step2ReqTemplate, classification)
	if err != nil {
		return model.Response{}, fmt.Errorf("temporalchain: start workflow: %w", err)
	}
	var resp model.Response
	if err := run.Get(ctx, &resp); err != nil {
		return model.Response{}, err
	}
	return resp, nil
}

// Close stops the worker started by NewRunner.
func (r *Runner) Close() {
	r.worker.Stop()
}
