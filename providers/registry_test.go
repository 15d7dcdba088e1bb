package providers

import (
	"context"
	"testing"

	"goa.design/llmrouter/model"
)

type stubAdapter struct{ name string }

func (s stubAdapter) ID() string { return s.name }
func (s stubAdapter) Generate(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, nil
}
func (s stubAdapter) Stream(context.Context, model.Request) (<-chan model.StreamingChunk, error) {
	return nil, nil
}

func TestRegistryResolvesByPrefix(t *testing.T) {
	r := NewRegistry("openai")
	r.Register("openai", stubAdapter{"openai"})
	r.Register("anthropic", stubAdapter{"anthropic"})
	r.Register("local", stubAdapter{"local"})
	r.Register("bedrock", stubAdapter{"bedrock"})

	cases := map[string]string{
		"gpt-4o":               "openai",
		"claude-3-5-sonnet":    "anthropic",
		"lmstudio-llama-3":     "local",
		"amazon.titan-text-v1": "bedrock",
		"bedrock.custom-model": "bedrock",
		"unknown-model-xyz":    "openai",
	}
	for modelID, want := range cases {
		a, ok := r.Resolve(modelID)
		if !ok {
			t.Fatalf("%s: expected resolution", modelID)
		}
		if a.ID() != want {
			t.Fatalf("%s: got %s, want %s", modelID, a.ID(), want)
		}
	}
}

func TestRegistryMemoizesResolution(t *testing.T) {
	r := NewRegistry("openai")
	r.Register("openai", stubAdapter{"openai"})
	a1, _ := r.Resolve("gpt-4o")
	a2, _ := r.Resolve("gpt-4o")
	if a1.ID() != a2.ID() {
		t.Fatalf("expected stable resolution across calls")
	}
}

func TestForDescriptorPrefersExplicitProvider(t *testing.T) {
	r := NewRegistry("openai")
	r.Register("openai", stubAdapter{"openai"})
	r.Register("anthropic", stubAdapter{"anthropic"})

	d := model.Descriptor{ID: "some-custom-id", Provider: "anthropic"}
	a, ok := r.ForDescriptor(d)
	if !ok || a.ID() != "anthropic" {
		t.Fatalf("got %+v ok=%v, want anthropic", a, ok)
	}
}

func TestForDescriptorFallsBackToPrefixInference(t *testing.T) {
	r := NewRegistry("openai")
	r.Register("openai", stubAdapter{"openai"})

	d := model.Descriptor{ID: "gpt-4o-mini"}
	a, ok := r.ForDescriptor(d)
	if !ok || a.ID() != "openai" {
		t.Fatalf("got %+v ok=%v, want openai", a, ok)
	}
}
