// Package bedrock adapts the router's providers.Adapter interface to
// the AWS Bedrock Converse API, grounded on the teacher's
// features/model/bedrock/client.go (RuntimeClient subset interface,
// message/system encoding, ConverseOutput translation) using
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/normalize"
	"goa.design/llmrouter/providers"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter depends on, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	Runtime         RuntimeClient
	DefaultModel    string
	MaxTokens       int
	Temperature     float32
	LatencyRecorder func(modelID string, ms int)
}

// Client implements providers.Adapter over AWS Bedrock Converse.
type Client struct {
	runtime       RuntimeClient
	defaultModel  string
	maxTokens     int
	temperature   float32
	recordLatency func(modelID string, ms int)
}

// New builds a Bedrock adapter.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime: opts.Runtime, defaultModel: opts.DefaultModel,
		maxTokens: opts.MaxTokens, temperature: opts.Temperature,
		recordLatency: opts.LatencyRecorder,
	}, nil
}

func (c *Client) ID() string { return "bedrock" }

func (c *Client) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	start := time.Now()
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	input, err := c.buildInput(req, modelID)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if c.recordLatency != nil {
		c.recordLatency(modelID, int(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return model.Response{}, translateError(err, modelID)
	}
	normalized, err := translateResponse(output, modelID)
	if err != nil {
		return model.Response{}, err
	}
	if err := providers.ValidateToolCalls("bedrock", modelID, req.Tools, normalized.ToolCalls); err != nil {
		return model.Response{}, err
	}
	return normalized, nil
}

// Stream adapts Bedrock's event-stream Converse API into the router's
// streaming chunk channel, text deltas only.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	convInput, err := c.buildInput(req, modelID)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:     convInput.ModelId,
		Messages:    convInput.Messages,
		System:      convInput.System,
		ToolConfig:  convInput.ToolConfig,
		InferenceConfig: convInput.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, translateError(err, modelID)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}

	result := make(chan model.StreamingChunk)
	go func() {
		defer close(result)
		defer stream.Close()
		for event := range stream.Events() {
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && text.Value != "" {
					select {
					case result <- model.StreamingChunk{Chunk: text.Value, ModelID: modelID}:
					case <-ctx.Done():
						return
					}
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				result <- model.StreamingChunk{Done: true, ModelID: modelID, FinishReason: string(ev.Value.StopReason)}
				return
			}
		}
		if err := stream.Err(); err != nil {
			routerErr := translateError(err, modelID)
			result <- model.StreamingChunk{Chunk: routerErr.Error(), Done: true, ModelID: modelID, Error: true, ErrorCode: string(routerErr.Kind)}
			return
		}
		result <- model.StreamingChunk{Done: true, ModelID: modelID}
	}()
	return result, nil
}

func (c *Client) buildInput(req model.Request, modelID string) (*bedrockruntime.ConverseInput, error) {
	if modelID == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	system, rest := normalize.SplitSystem(req.Messages)
	messages := make([]brtypes.Message, 0, len(rest))
	for _, m := range rest {
		var content string
		if m.Content != nil {
			content = *m.Content
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  &modelID,
		Messages: messages,
	}
	if system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
	}
	inference := &brtypes.InferenceConfiguration{}
	haveInference := false
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTokens)
	}
	if maxTokens > 0 {
		inference.MaxTokens = &maxTokens
		haveInference = true
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		inference.Temperature = &t
		haveInference = true
	} else if c.temperature > 0 {
		t := c.temperature
		inference.Temperature = &t
		haveInference = true
	}
	if haveInference {
		input.InferenceConfig = inference
	}
	return input, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput, modelID string) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	var text string
	var toolCalls []model.ToolCall
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				payload := encodeDocument(v.Value.Input)
				var name, id string
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				toolCalls = append(toolCalls, model.ToolCall{ID: id, Name: name, Arguments: payload})
			}
		}
	}
	usage := model.TokenUsage{}
	if output.Usage != nil {
		if output.Usage.InputTokens != nil {
			usage.Prompt = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			usage.Completion = int(*output.Usage.OutputTokens)
		}
		usage.Total = usage.Prompt + usage.Completion
	}
	return model.Response{Text: text, ModelUsed: modelID, Tokens: usage, ToolCalls: toolCalls}, nil
}

// encodeDocument marshals a Bedrock smithydocument.Interface tool-input
// payload to a JSON string.
func encodeDocument(doc interface{ UnmarshalSmithyDocument(v any) error }) string {
	if doc == nil {
		return ""
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func translateError(err error, modelID string) *model.RouterError {
	var apiErr smithy.APIError
	var respErr *smithyhttp.ResponseError
	hasAPIErr := errors.As(err, &apiErr)
	hasRespErr := errors.As(err, &respErr)
	if hasAPIErr {
		candidates := []string{apiErr.ErrorCode()}
		if kind, ok := model.ClassifyErrorBody(candidates...); ok {
			return model.NewRouterError(kind.RouterKind(), fmt.Sprintf("bedrock: %v", err), err).WithProvider("bedrock", modelID)
		}
	}
	if hasRespErr {
		kind := model.ClassifyHTTPStatus(respErr.HTTPStatusCode())
		return model.NewRouterError(kind.RouterKind(), fmt.Sprintf("bedrock: %v", err), err).WithProvider("bedrock", modelID)
	}
	return model.NewRouterError(model.ErrModelServerError, fmt.Sprintf("bedrock: %v", err), err).WithProvider("bedrock", modelID)
}
