package providers

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/llmrouter/model"
)

// ValidateToolCalls compiles each tool definition's JSON-Schema
// parameters and validates the corresponding tool call's decoded
// argument payload against it (SPEC_FULL.md §4.A). A call whose
// arguments fail to satisfy its tool's schema surfaces as a
// non-retryable INVALID_REQUEST error rather than being handed to the
// orchestrator as if it were well-formed. A call naming a tool absent
// from defs, or a tool declared without a schema, is not validated.
func ValidateToolCalls(provider, modelID string, defs []model.ToolDefinition, calls []model.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	schemas := make(map[string]json.RawMessage, len(defs))
	for _, d := range defs {
		if len(d.Parameters) > 0 {
			schemas[d.Name] = d.Parameters
		}
	}

	for _, call := range calls {
		raw, ok := schemas[call.Name]
		if !ok {
			continue // tool not declared with a schema this call; nothing to check against
		}
		if err := validateOne(raw, call.Arguments); err != nil {
			return model.NewRouterError(model.ErrInvalidRequest,
				fmt.Sprintf("%s: tool call %q failed schema validation: %v", provider, call.Name, err), err).
				WithProvider(provider, modelID)
		}
	}
	return nil
}

func validateOne(schemaJSON json.RawMessage, arguments string) error {
	if arguments == "" {
		arguments = "{}"
	}
	var argDoc any
	if err := json.Unmarshal([]byte(arguments), &argDoc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	const resource = "tool-call-schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(argDoc)
}
