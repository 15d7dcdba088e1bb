package temporalchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/pipeline"
)

func ptrF(f float64) *float64 { return &f }

func TestCombineJoinsTextAndSumsUsage(t *testing.T) {
	step1 := model.Response{
		Text: "reasoning output", ModelUsed: "best-reasoning",
		Tokens: model.NewTokenUsage(10, 20), Cost: ptrF(0.1),
	}
	step2 := model.Response{
		Text: "writing output", ModelUsed: "best-writing",
		Tokens: model.NewTokenUsage(5, 15), Cost: ptrF(0.2),
	}

	got := combine(step1, step2)

	require.Equal(t, "reasoning output\n\nwriting output", got.Text)
	require.Equal(t, "best-reasoning -> best-writing", got.ModelUsed)
	require.Equal(t, 15, got.Tokens.Prompt)
	require.Equal(t, 35, got.Tokens.Completion)
	require.Equal(t, 50, got.Tokens.Total)
	require.NotNil(t, got.Cost)
	require.InDelta(t, 0.3, *got.Cost, 1e-9)
}

func TestCombineLeavesCostNilWhenNeitherStepHasOne(t *testing.T) {
	got := combine(model.Response{Text: "a"}, model.Response{Text: "b"})
	require.Nil(t, got.Cost)
}

func TestCombineSumsCostWhenOnlyOneStepHasOne(t *testing.T) {
	step1 := model.Response{Text: "a", Cost: ptrF(1.5)}
	step2 := model.Response{Text: "b"}
	got := combine(step1, step2)
	require.NotNil(t, got.Cost)
	require.InDelta(t, 1.5, *got.Cost, 1e-9)
}

func TestActivitiesDispatchPropagatesProcessingTime(t *testing.T) {
	var sawReq model.Request
	acts := &Activities{
		Dispatch: pipeline.StepDispatcher(func(_ context.Context, req model.Request, _ model.Classification) (model.Response, model.ProcessingTime, error) {
			sawReq = req
			return model.Response{Text: "ok"}, model.ProcessingTime{ModelGeneration: 42}, nil
		}),
	}

	resp, err := acts.Step1(context.Background(), stepInput{Request: model.Request{Prompt: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.EqualValues(t, 42, resp.ProcessingTime.ModelGeneration)
	require.Equal(t, "hi", sawReq.Prompt)
}

func TestNewRunnerRejectsIncompleteArgs(t *testing.T) {
	_, err := NewRunner(nil, "queue", &Activities{Dispatch: func(context.Context, model.Request, model.Classification) (model.Response, model.ProcessingTime, error) {
		return model.Response{}, model.ProcessingTime{}, nil
	}})
	require.Error(t, err)
}
