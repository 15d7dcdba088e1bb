// Package pipeline implements the end-to-end request orchestrator (spec
// §4.J): preprocess -> cache lookup -> classify -> (chain | route ->
// normalize -> dispatch) -> annotate -> cache write. Grounded on the
// teacher's features/model/gateway.Server onion-wrapped middleware
// chain, repurposed here as an ordered sequence of named, independently
// timed steps rather than a middleware onion, since spec.md requires a
// per-step duration breakdown in the response envelope.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"goa.design/llmrouter/breaker"
	"goa.design/llmrouter/cache"
	"goa.design/llmrouter/classifier"
	"goa.design/llmrouter/fallback"
	"goa.design/llmrouter/model"
	"goa.design/llmrouter/normalize"
	"goa.design/llmrouter/providers"
	"goa.design/llmrouter/retry"
	"goa.design/llmrouter/routing"
	"goa.design/llmrouter/telemetry"
)

// Config carries the process-wide options recognized by the pipeline
// (spec §6 Configuration): fallback/chain toggles, default cache
// strategy, and timeout/retry budgets overridable per request.
type Config struct {
	DefaultCacheStrategy model.CacheStrategy
	DefaultRoutingName   string

	FallbackEnabled bool
	FallbackLevels  int
	AutoDegraded    bool
	DegradedMode    bool // process-wide static override, distinct from fallback.Controller's auto-triggered flag

	ChainEnabled  bool
	ChainStep1ID  string // explicit model id for the chain's first ("best-reasoning") hop; empty defers to routing
	ChainStep2ID  string // explicit model id for the chain's second ("best-writing") hop; empty defers to routing

	RequestTimeout time.Duration
	UnaryRetry     retry.Config
	StreamRetry    retry.Config
}

// DefaultConfig returns the spec's baseline defaults (§4.D, §4.I, §6).
func DefaultConfig() Config {
	return Config{
		DefaultCacheStrategy: model.CacheDefault,
		DefaultRoutingName:   "best-model",
		FallbackEnabled:      true,
		FallbackLevels:       2,
		RequestTimeout:       30 * time.Second,
		UnaryRetry:           retry.DefaultUnaryConfig(),
		StreamRetry:          retry.DefaultStreamConfig(),
	}
}

// Deps bundles every collaborator the orchestrator needs, injected
// explicitly instead of resolved through runtime-attached service
// handles (spec §9 Design Notes: "a typed handle ... passed to every
// pipeline step").
type Deps struct {
	Classifier  classifier.Classifier
	Routing     *routing.Engine
	Descriptors routing.DescriptorStore
	Normalizers *normalize.Registry
	Adapters    *providers.Registry
	Cache       *cache.Cache
	Breaker     *breaker.Breaker
	Fallback    *fallback.Controller
	Chain       ChainRunner // nil selects InProcessChain
	Telemetry   telemetry.Handle
}

// Orchestrator runs the pipeline for individual requests. One instance
// is shared across all concurrent requests; it holds no per-request
// mutable state (spec §5).
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// New constructs an Orchestrator. A nil deps.Chain defaults to
// InProcessChain{}; a zero-value deps.Telemetry defaults to a no-op
// handle.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Chain == nil {
		deps.Chain = InProcessChain{}
	}
	if deps.Telemetry.Log == nil {
		deps.Telemetry = telemetry.NewNoopHandle()
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Run executes the full unary pipeline for req and returns a normalized
// Response (spec §4.J).
func (o *Orchestrator) Run(ctx context.Context, req model.Request) (model.Response, error) {
	start := time.Now()
	req = o.prepare(req)
	log := o.deps.Telemetry.Log

	if strings.TrimSpace(req.Text()) == "" {
		return model.Response{}, model.NewRouterError(model.ErrInvalidRequest, "prompt must not be empty", nil).WithRequestID(req.RequestID)
	}

	var timing model.ProcessingTime
	if resp, ok := o.lookupCache(ctx, req); ok {
		o.deps.Telemetry.Metrics.IncCounter("router_cache_hit_total", 1)
		resp.RequestID = req.RequestID
		resp.ProcessingTime.Total = time.Since(start)
		return resp, nil
	}

	classifyStart := time.Now()
	classification, err := o.deps.Classifier.Classify(ctx, req.Text())
	timing.Classification = time.Since(classifyStart)
	if err != nil {
		log.Error(ctx, "classification failed", "request_id", req.RequestID, "error", err.Error())
		return model.Response{}, wrapStage(err, "classification", req.RequestID)
	}

	var resp model.Response
	if o.cfg.ChainEnabled && classification.RequiresChain() && !req.Stream {
		resp, err = o.runChain(ctx, req, classification)
	} else {
		var stepTiming model.ProcessingTime
		resp, stepTiming, err = o.resolveAndDispatch(ctx, req, classification)
		timing.Routing = stepTiming.Routing
		timing.Normalization = stepTiming.Normalization
		timing.ModelGeneration = stepTiming.ModelGeneration
	}
	if err != nil {
		log.Warn(ctx, "request failed", "request_id", req.RequestID, "error", err.Error())
		o.deps.Telemetry.Metrics.IncCounter("router_request_failure_total", 1)
		return model.Response{}, err
	}

	resp.RequestID = req.RequestID
	resp.Classification = &classification
	resp.ProcessingTime.Classification = timing.Classification
	resp.ProcessingTime.Routing = timing.Routing
	resp.ProcessingTime.Normalization = timing.Normalization
	resp.ProcessingTime.ModelGeneration = timing.ModelGeneration
	resp.ProcessingTime.Total = time.Since(start)

	o.deps.Cache.Store(ctx, req, resp, classification)
	o.deps.Telemetry.Metrics.RecordTimer("router_request_duration", resp.ProcessingTime.Total, "model", resp.ModelUsed)
	return resp, nil
}

// prepare assigns a request id and default cache strategy when the
// caller left them unset.
func (o *Orchestrator) prepare(req model.Request) model.Request {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.CacheStrategy == "" {
		req.CacheStrategy = o.cfg.DefaultCacheStrategy
	}
	return req
}

func (o *Orchestrator) lookupCache(ctx context.Context, req model.Request) (model.Response, bool) {
	if req.Stream {
		return model.Response{}, false
	}
	return o.deps.Cache.Lookup(ctx, req)
}

// resolveAndDispatch resolves a model for (req, classification), runs
// the fallback ladder if the primary is unavailable, and dispatches the
// call, returning the per-step timing breakdown for routing,
// normalization, and model generation.
func (o *Orchestrator) resolveAndDispatch(ctx context.Context, req model.Request, classification model.Classification) (model.Response, model.ProcessingTime, error) {
	routingStart := time.Now()
	descriptor, ok := o.deps.Routing.Route(ctx, req.ModelID, classification, o.routingOptions(req))
	available := ok && o.circuitAllows(ctx, descriptor, req.Stream)
	routingDuration := time.Since(routingStart)

	if available {
		resp, err := o.dispatchOne(ctx, descriptor, req)
		if err != nil {
			return model.Response{}, model.ProcessingTime{Routing: routingDuration}, err
		}
		resp.ModelUsed = descriptor.ID
		resp.ProcessingTime.Routing = routingDuration
		if descriptor.CostPer1K != nil {
			cost := float64(resp.Tokens.Total) * *descriptor.CostPer1K / 1000
			resp.Cost = &cost
		}
		return resp, resp.ProcessingTime, nil
	}

	if !o.cfg.FallbackEnabled {
		err := model.NewRouterError(model.ErrModelUnavailable, "primary model unavailable and fallback is disabled", nil).
			WithProvider(descriptor.Provider, primaryID(req, descriptor, ok)).WithRequestID(req.RequestID)
		return model.Response{}, model.ProcessingTime{Routing: routingDuration}, err
	}

	primary := descriptor
	if !ok {
		primary = model.Descriptor{ID: primaryID(req, descriptor, ok)}
	}
	candidates := o.availableCandidates(ctx, primary.ID, req.Stream)

	gen := func(ctx context.Context, d model.Descriptor) (model.Response, error) {
		return o.dispatchOne(ctx, d, req)
	}
	resp, used, err := o.deps.Fallback.Attempt(ctx, primary, candidates, gen, fallback.Options{
		FallbackLevels: o.cfg.FallbackLevels,
		DegradedMode:   o.cfg.DegradedMode,
		AutoDegraded:   o.cfg.AutoDegraded,
	})
	if err != nil {
		if _, isExhausted := err.(*fallback.ExhaustedError); isExhausted {
			return model.Response{}, model.ProcessingTime{Routing: routingDuration}, model.NewRouterError(model.ErrAllModelsFailed, err.Error(), err).WithRequestID(req.RequestID)
		}
		return model.Response{}, model.ProcessingTime{Routing: routingDuration}, err
	}
	resp.ProcessingTime.Routing = routingDuration
	if used.ID != "" {
		resp.ModelUsed = used.ID
		if used.CostPer1K != nil {
			cost := float64(resp.Tokens.Total) * *used.CostPer1K / 1000
			resp.Cost = &cost
		}
	}
	return resp, resp.ProcessingTime, nil
}

// RunStream executes the streaming pipeline for req (spec §4.J "stream
// variant"): classify, route, normalize, dispatch to the adapter's
// Stream method. Unlike Run, a streaming request never consults the
// cache, never joins the model chain (pipeline.go's Run already gates
// chain eligibility on !req.Stream), and never falls through the
// fallback ladder, since switching providers mid-stream would hand the
// caller a channel that silently restarts from a different model; an
// open circuit or unresolved route is reported as MODEL_UNAVAILABLE
// instead.
func (o *Orchestrator) RunStream(ctx context.Context, req model.Request) (<-chan model.StreamingChunk, error) {
	req.Stream = true
	req = o.prepare(req)
	log := o.deps.Telemetry.Log

	if strings.TrimSpace(req.Text()) == "" {
		return nil, model.NewRouterError(model.ErrInvalidRequest, "prompt must not be empty", nil).WithRequestID(req.RequestID)
	}

	classification, err := o.deps.Classifier.Classify(ctx, req.Text())
	if err != nil {
		log.Error(ctx, "classification failed", "request_id", req.RequestID, "error", err.Error())
		return nil, wrapStage(err, "classification", req.RequestID)
	}

	descriptor, ok := o.deps.Routing.Route(ctx, req.ModelID, classification, o.routingOptions(req))
	if !ok || !o.circuitAllows(ctx, descriptor, true) {
		return nil, model.NewRouterError(model.ErrModelUnavailable, "no model available to stream from", nil).
			WithProvider(descriptor.Provider, primaryID(req, descriptor, ok)).WithRequestID(req.RequestID)
	}

	normalized := o.normalizeFor(req, descriptor.ID)
	adapter, ok := o.deps.Adapters.ForDescriptor(descriptor)
	if !ok {
		return nil, model.NewRouterError(model.ErrModelUnavailable, "no adapter registered for model", nil).
			WithProvider(descriptor.Provider, descriptor.ID).WithRequestID(req.RequestID)
	}

	key := breaker.Key(o.providerTag(descriptor), descriptor.ID, true)
	if !o.deps.Breaker.Allow(ctx, key) {
		return nil, model.NewRouterError(model.ErrModelUnavailable, "circuit breaker open", nil).
			WithProvider(descriptor.Provider, descriptor.ID).WithRequestID(req.RequestID)
	}

	upstream, err := adapter.Stream(ctx, normalized)
	if err != nil {
		o.recordFailure(ctx, key, err)
		return nil, translateDispatchError(err, descriptor, req.RequestID)
	}
	o.deps.Telemetry.Metrics.IncCounter("router_stream_start_total", 1, "model", descriptor.ID)

	out := make(chan model.StreamingChunk)
	go func() {
		defer close(out)
		succeeded := true
		for chunk := range upstream {
			if chunk.Error {
				succeeded = false
			}
			chunk.ModelID = descriptor.ID
			out <- chunk
		}
		if succeeded {
			o.deps.Breaker.RecordSuccess(ctx, key)
		} else {
			o.deps.Breaker.RecordFailure(ctx, key, model.AdapterErrServerError)
		}
	}()
	return out, nil
}

// DispatchStep exposes resolveAndDispatch as a pipeline.StepDispatcher so
// cmd/router can bind an Orchestrator's own routed-dispatch behavior into
// temporalchain.Activities.Dispatch, letting each chain hop (run as a
// Temporal activity) share the identical routing/normalize/adapter path
// a single-step request would take.
func (o *Orchestrator) DispatchStep(ctx context.Context, req model.Request, classification model.Classification) (model.Response, model.ProcessingTime, error) {
	return o.resolveAndDispatch(ctx, req, classification)
}

func primaryID(req model.Request, descriptor model.Descriptor, resolved bool) string {
	if resolved {
		return descriptor.ID
	}
	if req.ModelID != "" {
		return req.ModelID
	}
	return descriptor.ID
}

// availableCandidates lists every descriptor other than excludeID whose
// Available flag is set and whose circuit is not open (spec §4.I
// "Build the candidate list: all available models except the primary").
func (o *Orchestrator) availableCandidates(ctx context.Context, excludeID string, stream bool) []model.Descriptor {
	all := o.deps.Descriptors.Snapshot()
	out := make([]model.Descriptor, 0, len(all))
	for _, d := range all {
		if d.ID == excludeID || !d.Available {
			continue
		}
		if !o.circuitAllows(ctx, d, stream) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (o *Orchestrator) circuitAllows(ctx context.Context, d model.Descriptor, stream bool) bool {
	key := breaker.Key(o.providerTag(d), d.ID, stream)
	return o.deps.Breaker.Allow(ctx, key)
}

func (o *Orchestrator) providerTag(d model.Descriptor) string {
	if d.Provider != "" {
		return d.Provider
	}
	if a, ok := o.deps.Adapters.ForDescriptor(d); ok {
		return a.ID()
	}
	return "unknown"
}

// dispatchOne normalizes req for d.ID and calls the resolved adapter
// under the retry/circuit-breaker guard (spec §4.J steps 7-8).
func (o *Orchestrator) dispatchOne(ctx context.Context, d model.Descriptor, req model.Request) (model.Response, error) {
	normStart := time.Now()
	normalized := o.normalizeFor(req, d.ID)
	normDuration := time.Since(normStart)

	adapter, ok := o.deps.Adapters.ForDescriptor(d)
	if !ok {
		return model.Response{}, model.NewRouterError(model.ErrModelUnavailable, "no adapter registered for model", nil).
			WithProvider(d.Provider, d.ID).WithRequestID(req.RequestID)
	}

	key := breaker.Key(o.providerTag(d), d.ID, req.Stream)
	if !o.deps.Breaker.Allow(ctx, key) {
		return model.Response{}, model.NewRouterError(model.ErrModelUnavailable, "circuit breaker open", nil).
			WithProvider(d.Provider, d.ID).WithRequestID(req.RequestID)
	}

	timeout := o.cfg.RequestTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	retryCfg := o.cfg.UnaryRetry
	if req.Stream {
		retryCfg = o.cfg.StreamRetry
	}
	if req.MaxRetries > 0 {
		retryCfg.MaxAttempts = req.MaxRetries + 1
	}

	genStart := time.Now()
	var resp model.Response
	err := retry.Do(callCtx, retryCfg, func(ctx context.Context, _ int) error {
		r, err := adapter.Generate(ctx, normalized)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	genDuration := time.Since(genStart)

	if err != nil {
		o.recordFailure(ctx, key, err)
		return model.Response{}, translateDispatchError(err, d, req.RequestID)
	}
	o.deps.Breaker.RecordSuccess(ctx, key)

	resp.ProcessingTime.Normalization = normDuration
	resp.ProcessingTime.ModelGeneration = genDuration
	return resp, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, key string, err error) {
	cause := err
	if exhausted, ok := err.(*retry.ExhaustedError); ok && exhausted.LastError != nil {
		cause = exhausted.LastError
	}
	if re, ok := model.AsRouterError(cause); ok {
		o.deps.Breaker.RecordFailure(ctx, key, model.AdapterKindForRouterKind(re.Kind))
		return
	}
	o.deps.Breaker.RecordFailure(ctx, key, model.AdapterErrUnknown)
}

// translateDispatchError unwraps a retry.ExhaustedError down to its
// underlying RouterError when present, attaching request context so
// callers see the classified failure rather than a generic
// retry-exhaustion wrapper.
func translateDispatchError(err error, d model.Descriptor, requestID string) error {
	cause := err
	if exhausted, ok := err.(*retry.ExhaustedError); ok && exhausted.LastError != nil {
		cause = exhausted.LastError
	}
	if re, ok := model.AsRouterError(cause); ok {
		return re.WithRequestID(requestID)
	}
	return model.NewRouterError(model.ErrRequestProcessingFail, err.Error(), err).
		WithProvider(d.Provider, d.ID).WithRequestID(requestID)
}

func (o *Orchestrator) normalizeFor(req model.Request, modelID string) model.Request {
	msgs := o.deps.Normalizers.For(modelID).Normalize(req, modelID)
	out := req
	out.Messages = msgs
	out.Prompt = ""
	out.ModelID = modelID
	return out
}

// wrapStage turns a classifier/routing-stage error into the
// REQUEST_PROCESSING_FAILED envelope (spec §7) unless it is already a
// RouterError.
func wrapStage(err error, stage, requestID string) error {
	if re, ok := model.AsRouterError(err); ok {
		return re.WithRequestID(requestID)
	}
	return model.NewRouterError(model.ErrRequestProcessingFail, stage+": "+err.Error(), err).WithRequestID(requestID)
}

// routingOptions builds routing.Options from the process default
// strategy and a request's routingOptions overrides (§4.G, §6).
func (o *Orchestrator) routingOptions(req model.Request) routing.Options {
	opts := routing.Options{Strategy: o.cfg.DefaultRoutingName}
	applyRoutingOverrides(&opts, req.RoutingOptions)
	return opts
}
