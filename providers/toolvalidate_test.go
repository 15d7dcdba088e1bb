package providers

import (
	"encoding/json"
	"testing"

	"goa.design/llmrouter/model"
)

func TestValidateToolCallsAcceptsConformingArguments(t *testing.T) {
	defs := []model.ToolDefinition{{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}}
	calls := []model.ToolCall{{Name: "get_weather", Arguments: `{"city":"Boston"}`}}

	if err := ValidateToolCalls("openai", "gpt-4", defs, calls); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateToolCallsRejectsMissingRequiredField(t *testing.T) {
	defs := []model.ToolDefinition{{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}}
	calls := []model.ToolCall{{Name: "get_weather", Arguments: `{}`}}

	err := ValidateToolCalls("openai", "gpt-4", defs, calls)
	if err == nil {
		t.Fatal("expected a schema validation error")
	}
	re, ok := model.AsRouterError(err)
	if !ok {
		t.Fatalf("expected a RouterError, got %T", err)
	}
	if re.Kind != model.ErrInvalidRequest {
		t.Fatalf("got kind %s, want INVALID_REQUEST", re.Kind)
	}
	if re.Retryable() {
		t.Fatal("schema validation failures must not be retryable")
	}
}

func TestValidateToolCallsRejectsMalformedArguments(t *testing.T) {
	defs := []model.ToolDefinition{{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object"}`),
	}}
	calls := []model.ToolCall{{Name: "get_weather", Arguments: `not json`}}

	if err := ValidateToolCalls("openai", "gpt-4", defs, calls); err == nil {
		t.Fatal("expected an error for malformed JSON arguments")
	}
}

func TestValidateToolCallsSkipsUndeclaredTools(t *testing.T) {
	calls := []model.ToolCall{{Name: "unregistered", Arguments: `{"anything":true}`}}
	if err := ValidateToolCalls("openai", "gpt-4", nil, calls); err != nil {
		t.Fatalf("unexpected error for a tool with no declared schema: %v", err)
	}
}
