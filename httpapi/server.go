// Package httpapi is the router's HTTP transport (spec §6 External
// Interfaces): a single OpenAI/Anthropic-compatible prompt endpoint,
// streaming via Server-Sent Events, a health probe, and a Prometheus
// scrape endpoint. Grounded on the Tributary-ai reference router's
// server.go (endpoint layout, middleware chain, SSE framing, JSON error
// envelope), reimplemented on Go 1.22+'s pattern-based net/http.ServeMux
// instead of gorilla/mux since no Goa-generated transport is available
// for this service (see DESIGN.md's dropped-dependencies note).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/pipeline"
	"goa.design/llmrouter/telemetry"
)

// Server wraps an http.Server bound to a ServeMux built over an
// *pipeline.Orchestrator.
type Server struct {
	httpServer     *http.Server
	orch           *pipeline.Orchestrator
	telemetry      telemetry.Handle
	health         HealthReporter
	metricsHandler http.Handler
}

// HealthReporter reports whether the router considers itself healthy.
// *fallback.Controller satisfies this directly via its own DegradedMode
// method (§6 GET /health).
type HealthReporter interface {
	DegradedMode() bool
}

// Config carries the HTTP transport's own options, distinct from
// pipeline.Config (§6 server-level settings: listen address and
// timeouts).
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
}

// DefaultConfig returns sane server timeouts matching the teacher's
// reference shape (ServerConfig in the Tributary-ai router).
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second, // generous: covers slow streaming responses
		MaxHeaderBytes: 1 << 20,
	}
}

// NewServer constructs a Server around orch. health may be nil, in which
// case /health always reports healthy. metricsHandler may be nil, in
// which case GET /metrics responds 404; cmd/router wires it to
// telemetry.SetupPrometheus's handler.
func NewServer(cfg Config, orch *pipeline.Orchestrator, health HealthReporter, th telemetry.Handle, metricsHandler http.Handler) *Server {
	if th.Log == nil {
		th = telemetry.NewNoopHandle()
	}
	s := &Server{orch: orch, telemetry: th, health: health, metricsHandler: metricsHandler}
	s.httpServer = &http.Server{
		Addr:           cfg.Addr,
		Handler:        s.routes(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

// Start runs the HTTP server until it is shut down or fails to bind.
func (s *Server) Start() error {
	s.telemetry.Log.Info(context.Background(), "starting llmrouter HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.telemetry.Log.Info(ctx, "stopping llmrouter HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/prompt", s.handlePrompt)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.contentTypeMiddleware(handler)
	return handler
}

// chatRequest is the OpenAI-compatible wire shape accepted by both
// /v1/prompt (prompt-only callers) and /v1/chat/completions
// (message-array callers); both decode into the same model.Request.
type chatRequest struct {
	Prompt      string                 `json:"prompt,omitempty"`
	Messages    []model.Message        `json:"messages,omitempty"`
	Model       string                 `json:"model,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	Stop        []string               `json:"stop,omitempty"`
	Tools       []model.ToolDefinition `json:"tools,omitempty"`
	ToolChoice  *model.ToolChoice      `json:"tool_choice,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`

	ClassifierOptions map[string]any `json:"classifierOptions,omitempty"`
	RoutingOptions    map[string]any `json:"routingOptions,omitempty"`

	TimeoutMS  int `json:"timeout_ms,omitempty"`
	MaxRetries int `json:"max_retries,omitempty"`
}

func (c chatRequest) toModelRequest() model.Request {
	return model.Request{
		Prompt:            c.Prompt,
		Messages:          c.Messages,
		ModelID:           c.Model,
		MaxTokens:         c.MaxTokens,
		Temperature:       c.Temperature,
		TopP:              c.TopP,
		Stop:              c.Stop,
		Tools:             c.Tools,
		ToolChoice:        c.ToolChoice,
		Stream:            c.Stream,
		ClassifierOptions: c.ClassifierOptions,
		RoutingOptions:    c.RoutingOptions,
		TimeoutMS:         c.TimeoutMS,
		MaxRetries:        c.MaxRetries,
	}
}

// handlePrompt is the router's native single-prompt endpoint (§6
// POST /prompt).
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, 400, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	req := body.toModelRequest()
	if req.Stream {
		s.stream(w, r, req)
		return
	}
	s.unary(w, r, req)
}

// handleChatCompletions is the OpenAI-compatible alias (§6
// POST /chat/completions): same request/response shape as handlePrompt,
// named to match clients built against the OpenAI SDK.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handlePrompt(w, r)
}

func (s *Server) unary(w http.ResponseWriter, r *http.Request, req model.Request) {
	resp, err := s.orch.Run(r.Context(), req)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, req model.Request) {
	chunks, err := s.orch.RunStream(r.Context(), req)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, 500, "streaming unsupported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			s.telemetry.Log.Error(r.Context(), "failed to marshal streaming chunk", "error", err.Error())
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	degraded := s.health != nil && s.health.DegradedMode()
	status := "healthy"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeRouterError(w http.ResponseWriter, err error) {
	re, ok := model.AsRouterError(err)
	if !ok {
		s.writeError(w, 500, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.Kind.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":       re.Kind,
			"message":    re.Message,
			"provider":   re.Provider,
			"model_id":   re.ModelID,
			"request_id": re.RequestID,
		},
	})
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    statusCode,
		},
	})
}
