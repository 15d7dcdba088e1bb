// Package local adapts self-hosted, OpenAI-API-compatible backends
// (LM Studio, Ollama's OpenAI-compatible endpoint, vLLM) to the
// router's providers.Adapter interface (§4.A "local models expose an
// OpenAI-compatible endpoint"). It reuses the OpenAI wire format by
// pointing a go-openai client at a configurable BaseURL rather than
// OpenAI's own hosts.
package local

import (
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	openaiadapter "goa.design/llmrouter/providers/openai"
)

// Options configures a local adapter.
type Options struct {
	BaseURL         string
	DefaultModel    string
	APIKey          string // most local servers ignore this; kept for parity with hosted proxies
	LatencyRecorder func(modelID string, ms int)
}

// Adapter wraps the OpenAI-shape client and reports its own ID so
// routing/logging can distinguish a local deployment from hosted
// OpenAI.
type Adapter struct {
	*openaiadapter.Client
}

func (Adapter) ID() string { return "local" }

// New builds an adapter targeting a local OpenAI-compatible endpoint.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("local: base url is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	client := openai.NewClientWithConfig(cfg)
	inner, err := openaiadapter.New(openaiadapter.Options{
		Client:          openaiadapter.WrapSDKClient(client),
		DefaultModel:    opts.DefaultModel,
		LatencyRecorder: opts.LatencyRecorder,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{Client: inner}, nil
}
