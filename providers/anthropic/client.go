// Package anthropic adapts the router's providers.Adapter interface to
// the Anthropic Claude Messages API, grounded on the teacher's
// features/model/anthropic/client.go and stream.go (system-message
// extraction, tool-use translation, event-union streaming) using
// github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/normalize"
	"goa.design/llmrouter/providers"
)

// MessagesClient captures the subset of the Anthropic SDK the adapter
// depends on, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter.
type Options struct {
	Client          MessagesClient
	DefaultModel    string
	MaxTokens       int
	LatencyRecorder func(modelID string, ms int)
}

// Client implements providers.Adapter over Anthropic Messages.
type Client struct {
	msg           MessagesClient
	defaultModel  string
	maxTokens     int
	recordLatency func(modelID string, ms int)
}

// New builds an Anthropic adapter from pre-constructed options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: opts.Client, defaultModel: opts.DefaultModel, maxTokens: maxTokens, recordLatency: opts.LatencyRecorder}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP
// transport, reading ANTHROPIC_API_KEY conventions from the option
// package.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &ac.Messages, DefaultModel: defaultModel})
}

func (c *Client) ID() string { return "anthropic" }

func (c *Client) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	start := time.Now()
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	params, err := c.buildParams(req, modelID)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if c.recordLatency != nil {
		c.recordLatency(modelID, int(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return model.Response{}, translateError(err, modelID)
	}
	normalized := translateResponse(msg, modelID)
	if err := providers.ValidateToolCalls("anthropic", modelID, req.Tools, normalized.ToolCalls); err != nil {
		return model.Response{}, err
	}
	return normalized, nil
}

func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}
	params, err := c.buildParams(req, modelID)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err, modelID)
	}

	out := make(chan model.StreamingChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		effectiveModel := modelID
		var stopReason string
		for stream.Next() {
			event := stream.Current()
			chunk, stop, ok := handleStreamEvent(event, &effectiveModel, &stopReason)
			if !ok {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if stop {
				return
			}
		}
		if err := stream.Err(); err != nil {
			routerErr := translateError(err, modelID)
			out <- model.StreamingChunk{Chunk: routerErr.Error(), Done: true, ModelID: effectiveModel, Error: true, ErrorCode: string(routerErr.Kind)}
			return
		}
		out <- model.StreamingChunk{Done: true, ModelID: effectiveModel, FinishReason: stopReason}
	}()
	return out, nil
}

// handleStreamEvent converts one Anthropic streaming event into a
// StreamingChunk (§4.A: message_start captures the concrete model name,
// message_delta records the stop reason). effectiveModel and stopReason
// are updated in place so the caller can attach them to the terminal
// chunk. ok reports whether a chunk should be emitted; stop reports
// whether the caller should close the output after emitting it.
func handleStreamEvent(event sdk.MessageStreamEventUnion, effectiveModel *string, stopReason *string) (chunk model.StreamingChunk, stop bool, ok bool) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		if name := string(ev.Message.Model); name != "" {
			*effectiveModel = name
		}
		return model.StreamingChunk{}, false, false
	case sdk.ContentBlockDeltaEvent:
		if text, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
			return model.StreamingChunk{Chunk: text.Text, ModelID: *effectiveModel}, false, true
		}
		return model.StreamingChunk{}, false, false
	case sdk.MessageDeltaEvent:
		*stopReason = string(ev.Delta.StopReason)
		return model.StreamingChunk{}, false, false
	case sdk.MessageStopEvent:
		return model.StreamingChunk{Done: true, ModelID: *effectiveModel, FinishReason: *stopReason}, true, true
	default:
		return model.StreamingChunk{}, false, false
	}
}

func (c *Client) buildParams(req model.Request, modelID string) (sdk.MessageNewParams, error) {
	if modelID == "" {
		return sdk.MessageNewParams{}, errors.New("anthropic: model id is required")
	}
	system, rest := normalize.SplitSystem(req.Messages)
	msgs := make([]sdk.MessageParam, 0, len(rest))
	for _, m := range rest {
		var content string
		if m.Content != nil {
			content = *m.Content
		}
		if m.Role == model.RoleAssistant {
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(content)))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(content)))
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params, nil
}

func translateResponse(msg *sdk.Message, modelID string) model.Response {
	var text string
	var toolCalls []model.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return model.Response{
		Text:      text,
		ModelUsed: modelID,
		Tokens:    model.NewTokenUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
		ToolCalls: toolCalls,
	}
}

func translateError(err error, modelID string) *model.RouterError {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind, ok := model.ClassifyErrorBody(apiErr.Type)
		if !ok {
			kind = model.ClassifyHTTPStatus(apiErr.StatusCode)
		}
		return model.NewRouterError(kind.RouterKind(), fmt.Sprintf("anthropic: %s", apiErr.Error()), err).WithProvider("anthropic", modelID)
	}
	return model.NewRouterError(model.ErrModelServerError, fmt.Sprintf("anthropic: %v", err), err).WithProvider("anthropic", modelID)
}
