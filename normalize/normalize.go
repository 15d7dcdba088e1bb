// Package normalize rewrites a provider-neutral prompt/message list into
// the shape a chosen provider expects (spec §4.H), grounded on the
// encodeMessages/encodeTools functions in the teacher's
// features/model/anthropic and features/model/openai adapters.
package normalize

import (
	"goa.design/llmrouter/model"
)

// Normalizer produces a provider-suitable prompt for modelID: a full
// message list for message-based providers, or (by convention) a single
// system-equivalent message for plain-text providers. Normalization is
// pure and deterministic per input (§4.H).
type Normalizer interface {
	Normalize(req model.Request, modelID string) []model.Message
}

// Registry selects a Normalizer by model id / provider prefix, mirroring
// the Adapter Registry's prefix-dispatch shape (§4.B) applied to
// normalization instead of transport.
type Registry struct {
	byPrefix []prefixEntry
	fallback Normalizer
}

type prefixEntry struct {
	prefix string
	norm   Normalizer
}

// NewRegistry constructs a Registry whose default (no match) Normalizer
// is the message-passthrough implementation.
func NewRegistry() *Registry {
	return &Registry{fallback: MessageNormalizer{}}
}

// Register associates a prefix (matched case-sensitively against the
// model id) with a Normalizer.
func (r *Registry) Register(prefix string, n Normalizer) {
	r.byPrefix = append(r.byPrefix, prefixEntry{prefix: prefix, norm: n})
}

// For returns the Normalizer registered for modelID's provider, or the
// default message-passthrough Normalizer if none matches.
func (r *Registry) For(modelID string) Normalizer {
	for _, e := range r.byPrefix {
		if hasPrefix(modelID, e.prefix) {
			return e.norm
		}
	}
	return r.fallback
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MessageNormalizer builds the canonical message list: the request's
// explicit Messages if present, otherwise a single user message wrapping
// Prompt. This is the shape both OpenAI-family and Anthropic-family
// adapters consume before applying their own system-message placement
// rules (§4.A "System-message handling").
type MessageNormalizer struct{}

func (MessageNormalizer) Normalize(req model.Request, _ string) []model.Message {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	text := req.Prompt
	return []model.Message{{Role: model.RoleUser, Content: &text}}
}

// SystemPrepend normalizes by folding the prompt into a plain single
// system-equivalent message, matching providers (and the "local /
// plain-text providers" case in §4.H) that want a flat string rather
// than a message list. The returned slice always has exactly one
// element so callers can read Content directly.
type SystemPrepend struct{}

func (SystemPrepend) Normalize(req model.Request, _ string) []model.Message {
	msgs := MessageNormalizer{}.Normalize(req, "")
	var b []byte
	for i, m := range msgs {
		if i > 0 {
			b = append(b, '\n')
		}
		if m.Content != nil {
			b = append(b, []byte(string(m.Role)+": "+*m.Content)...)
		}
	}
	text := string(b)
	return []model.Message{{Role: model.RoleUser, Content: &text}}
}
