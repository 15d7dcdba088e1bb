// Package openai adapts the router's providers.Adapter interface to the
// OpenAI Chat Completions API, grounded on the teacher's
// features/model/openai/client.go shape and regrounded for streaming
// (spec §4.A) using the same github.com/sashabaranov/go-openai SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/providers"
)

// ChatClient captures the subset of the go-openai client the adapter
// depends on, so tests can substitute a fake. CreateChatCompletionStream
// returns the narrower StreamReceiver interface rather than the SDK's
// concrete *openai.ChatCompletionStream so streaming (including tool-call
// delta reassembly) can be exercised with a fake in tests.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (StreamReceiver, error)
}

// StreamReceiver is the subset of *openai.ChatCompletionStream the
// adapter consumes. The real SDK stream satisfies this directly.
type StreamReceiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// sdkChatClient adapts *openai.Client to ChatClient, narrowing its
// CreateChatCompletionStream return type to StreamReceiver.
type sdkChatClient struct {
	*openai.Client
}

func (s sdkChatClient) CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (StreamReceiver, error) {
	return s.Client.CreateChatCompletionStream(ctx, request)
}

// WrapSDKClient adapts a raw go-openai client (including one pointed at
// an OpenAI-compatible local endpoint, as providers/local does) to
// ChatClient.
func WrapSDKClient(c *openai.Client) ChatClient { return sdkChatClient{c} }

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	LatencyRecorder func(modelID string, ms int)
}

// Client implements providers.Adapter over OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	recordLatency func(modelID string, ms int)
}

// New builds an OpenAI adapter from pre-constructed options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	return &Client{chat: opts.Client, defaultModel: opts.DefaultModel, recordLatency: opts.LatencyRecorder}, nil
}

// NewFromAPIKey constructs a Client using go-openai's default HTTP
// transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(apiKey)
	return New(Options{Client: WrapSDKClient(c), DefaultModel: defaultModel})
}

func (c *Client) ID() string { return "openai" }

func (c *Client) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	start := time.Now()
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	request, err := c.buildRequest(req, modelID, false)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if c.recordLatency != nil {
		c.recordLatency(modelID, int(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return model.Response{}, translateError(err, modelID)
	}
	normalized := translateResponse(resp, modelID)
	if err := providers.ValidateToolCalls("openai", modelID, req.Tools, normalized.ToolCalls); err != nil {
		return model.Response{}, err
	}
	return normalized, nil
}

func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	request, err := c.buildRequest(req, modelID, true)
	if err != nil {
		return nil, err
	}
	stream, err := c.chat.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, translateError(err, modelID)
	}

	out := make(chan model.StreamingChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- model.StreamingChunk{Done: true, ModelID: modelID}
				return
			}
			if err != nil {
				routerErr := translateError(err, modelID)
				out <- model.StreamingChunk{Chunk: routerErr.Error(), Done: true, ModelID: modelID, Error: true, ErrorCode: string(routerErr.Kind)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			finishReason := string(choice.FinishReason)

			for _, delta := range toolCallDeltas(choice.Delta) {
				encoded, err := json.Marshal(delta)
				if err != nil {
					continue
				}
				select {
				case out <- model.StreamingChunk{Chunk: model.ToolCallChunkPrefix + string(encoded), ModelID: modelID}:
				case <-ctx.Done():
					return
				}
			}

			if choice.Delta.Content == "" && finishReason == "" {
				continue
			}
			select {
			case out <- model.StreamingChunk{Chunk: choice.Delta.Content, ModelID: modelID, FinishReason: finishReason}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) buildRequest(req model.Request, modelID string, stream bool) (openai.ChatCompletionRequest, error) {
	if modelID == "" {
		return openai.ChatCompletionRequest{}, errors.New("openai: model id is required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		var content string
		if m.Content != nil {
			content = *m.Content
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: content,
			Name:    m.Name,
		})
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	request := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
		Tools:    tools,
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		request.TopP = float32(*req.TopP)
	}
	if len(req.Stop) > 0 {
		request.Stop = req.Stop
	}
	return request, nil
}

func encodeTools(defs []model.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.Parameters),
			},
		})
	}
	return tools, nil
}

// toolCallDeltas converts one streaming delta's legacy function_call and
// tool_calls fields into the router's provider-neutral delta shape (§4.A
// "function_call/tool_calls deltas are serialized as JSON and emitted as
// specially prefixed chunk text so the client can reassemble them").
func toolCallDeltas(delta openai.ChatCompletionStreamChoiceDelta) []model.ToolCallDelta {
	var deltas []model.ToolCallDelta
	if delta.FunctionCall != nil {
		deltas = append(deltas, model.ToolCallDelta{
			Name:         delta.FunctionCall.Name,
			ArgsFragment: delta.FunctionCall.Arguments,
		})
	}
	for _, tc := range delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		deltas = append(deltas, model.ToolCallDelta{
			Index:        idx,
			ID:           tc.ID,
			Name:         tc.Function.Name,
			ArgsFragment: tc.Function.Arguments,
		})
	}
	return deltas
}

func translateResponse(resp openai.ChatCompletionResponse, modelID string) model.Response {
	var text string
	var toolCalls []model.ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		text = choice.Message.Content
		for _, call := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, model.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: parseArguments(call.Function.Arguments),
			})
		}
	}
	return model.Response{
		Text:      text,
		ModelUsed: modelID,
		Tokens:    model.NewTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		ToolCalls: toolCalls,
	}
}

func parseArguments(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return raw
}

func translateError(err error, modelID string) *model.RouterError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind, ok := model.ClassifyErrorBody(apiErr.Type, fmt.Sprintf("%v", apiErr.Code))
		if !ok {
			kind = model.ClassifyHTTPStatus(apiErr.HTTPStatusCode)
		}
		return model.NewRouterError(kind.RouterKind(), fmt.Sprintf("openai: %s", apiErr.Message), err).WithProvider("openai", modelID)
	}
	return model.NewRouterError(model.ErrModelServerError, fmt.Sprintf("openai: %v", err), err).WithProvider("openai", modelID)
}
