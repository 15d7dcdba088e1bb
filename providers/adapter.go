// Package providers defines the adapter boundary between the router
// pipeline and concrete LLM backends (§3 Adapter, §4.A Provider
// Adapter Layer).
package providers

import (
	"context"

	"goa.design/llmrouter/model"
)

// Adapter is implemented by every provider-specific client. Dispatch
// (§4.J step 8) calls Generate or Stream after normalization has
// already rewritten the request's messages for the target provider.
type Adapter interface {
	// ID identifies the adapter for logging/metrics, e.g. "openai".
	ID() string
	Generate(ctx context.Context, req model.Request) (model.Response, error)
	Stream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error)
}

// StaticLatencyRecorder is satisfied by routing.DescriptorStore and
// lets an adapter feed observed call latency back into the rolling
// window used by the lowest-latency strategy (§3 Adapter).
type StaticLatencyRecorder interface {
	RecordLatency(modelID string, ms int)
}
