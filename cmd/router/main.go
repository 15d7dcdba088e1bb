// Command router is the llmrouter process entry point: it loads
// configuration, wires every pipeline collaborator, and starts the HTTP
// transport. Grounded on cmd/demo/main.go's top-level wiring shape
// (construct dependencies bottom-up, run, wait for shutdown signal),
// adapted from wiring an agent runtime to wiring the request router.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	temporalclient "go.temporal.io/sdk/client"
	cluelog "goa.design/clue/log"

	"goa.design/llmrouter/breaker"
	"goa.design/llmrouter/cache"
	"goa.design/llmrouter/classifier"
	"goa.design/llmrouter/fallback"
	"goa.design/llmrouter/httpapi"
	"goa.design/llmrouter/internal/config"
	"goa.design/llmrouter/normalize"
	"goa.design/llmrouter/pipeline"
	"goa.design/llmrouter/pipeline/temporalchain"
	"goa.design/llmrouter/providers"
	"goa.design/llmrouter/providers/anthropic"
	"goa.design/llmrouter/providers/bedrock"
	"goa.design/llmrouter/providers/local"
	"goa.design/llmrouter/providers/openai"
	"goa.design/llmrouter/providers/ratelimit"
	"goa.design/llmrouter/routing"
	"goa.design/llmrouter/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = cluelog.Context(ctx, cluelog.WithFormat(cluelog.FormatJSON))

	cfg, err := config.Load(os.Getenv("LLMROUTER_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pipelineCfg := cfg.Pipeline()

	th := telemetry.Handle{Log: telemetry.NewClueLogger(), Metrics: telemetry.NewClueMetrics(), Tracer: telemetry.NewClueTracer()}

	metricsHandler, err := telemetry.SetupPrometheus()
	if err != nil {
		return fmt.Errorf("setup prometheus: %w", err)
	}

	descriptorStore := routing.NewStaticStore(cfg.Descriptors)
	routingEngine := routing.NewEngine(descriptorStore, pipelineCfg.DefaultRoutingName)

	adapterRegistry, err := buildAdapterRegistry(ctx, cfg, descriptorStore)
	if err != nil {
		return fmt.Errorf("build adapters: %w", err)
	}

	cacheStore := buildCacheStore(cfg)
	resultCache := cache.New(cacheStore, cache.WithBaseTTL(cfg.RedisCacheTTL))

	breakerStore := buildBreakerStore(cfg)
	circuitBreaker := breaker.New(breakerStore, th.Log)

	var alerter fallback.Alerter
	if cfg.MonitorFallbacks {
		alerter = logAlerter{log: th.Log}
	}
	fallbackController := fallback.NewController(alerter)

	deps := pipeline.Deps{
		Classifier:  classifier.NewRules(),
		Routing:     routingEngine,
		Descriptors: descriptorStore,
		Normalizers: normalize.NewRegistry(),
		Adapters:    adapterRegistry,
		Cache:       resultCache,
		Breaker:     circuitBreaker,
		Fallback:    fallbackController,
		Telemetry:   th,
	}

	orch := pipeline.New(deps, pipelineCfg)

	var temporalRunner *temporalchain.Runner
	if cfg.ChainDurable {
		runner, closeFn, err := buildTemporalRunner(cfg, orch)
		if err != nil {
			return fmt.Errorf("build temporal chain runner: %w", err)
		}
		defer closeFn()
		temporalRunner = runner
		deps.Chain = runner
		orch = pipeline.New(deps, pipelineCfg)
	}

	server := httpapi.NewServer(httpapi.DefaultConfig(), orch, fallbackController, th, metricsHandler)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		th.Log.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if temporalRunner != nil {
		temporalRunner.Close()
	}
	return server.Stop(shutdownCtx)
}

// logAlerter forwards fallback alerts (spec §4.I Monitoring) to the
// process logger's Warn level; a dedicated paging integration can be
// substituted later without touching fallback.Controller.
type logAlerter struct {
	log telemetry.Logger
}

func (a logAlerter) Alert(ctx context.Context, key string, count int) {
	a.log.Warn(ctx, "fallback threshold exceeded", "key", key, "count", count)
}

// buildAdapterRegistry registers an adapter for every provider with
// credentials present in cfg.Providers, wrapping each in an adaptive
// rate limiter (§4.A/§4.D) before registration.
func buildAdapterRegistry(ctx context.Context, cfg config.Config, descriptors *routing.StaticStore) (*providers.Registry, error) {
	registry := providers.NewRegistry("openai")

	if creds, ok := cfg.Providers["openai"]; ok && creds.APIKey != "" {
		client, err := openai.NewFromAPIKey(creds.APIKey, "gpt-4o")
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		registry.Register("openai", wrapRateLimited(client))
	}

	if creds, ok := cfg.Providers["anthropic"]; ok && creds.APIKey != "" {
		client, err := anthropic.NewFromAPIKey(creds.APIKey, "claude-3-5-sonnet-latest")
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		registry.Register("anthropic", wrapRateLimited(client))
	}

	if creds, ok := cfg.Providers["local"]; ok && creds.BaseURL != "" {
		client, err := local.New(local.Options{BaseURL: creds.BaseURL, APIKey: creds.APIKey})
		if err != nil {
			return nil, fmt.Errorf("local: %w", err)
		}
		registry.Register("local", wrapRateLimited(client))
	}

	if creds, ok := cfg.Providers["bedrock"]; ok && creds.Region != "" {
		client, err := buildBedrockAdapter(ctx, creds, descriptors)
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		registry.Register("bedrock", wrapRateLimited(client))
	}

	return registry, nil
}

// wrapRateLimited applies the AIMD token-bucket wrapper with a generous
// starting budget that halves on a rate-limit response and probes back
// upward on sustained success (§4.A/§4.D).
func wrapRateLimited(a providers.Adapter) providers.Adapter {
	return ratelimit.New(60000, 60000).Wrap(a)
}

func buildCacheStore(cfg config.Config) cache.Store {
	if cfg.RedisURL == "" {
		return cache.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	return cache.NewRedisStore(client)
}

// buildBreakerStore returns nil when no Redis is configured, which makes
// breaker.New degrade to an always-closed circuit (best-effort, §4.C)
// rather than failing startup over an optional dependency.
func buildBreakerStore(cfg config.Config) breaker.Store {
	if cfg.RedisURL == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	return breaker.NewRedisStore(client)
}

func buildBedrockAdapter(ctx context.Context, creds config.ProviderCredentials, descriptors *routing.StaticStore) (*bedrock.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if creds.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(creds.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return bedrock.New(bedrock.Options{
		Runtime:         runtime,
		DefaultModel:    "anthropic.claude-3-5-sonnet-20241022-v2:0",
		MaxTokens:       4096,
		Temperature:     0.7,
		LatencyRecorder: descriptors.RecordLatency,
	})
}

// buildTemporalRunner dials the configured Temporal cluster and starts a
// worker bound to orch's own routed-dispatch path, so each chain hop
// (executed as a Temporal activity) takes the identical routing/
// normalize/adapter path a single-step request would.
func buildTemporalRunner(cfg config.Config, orch *pipeline.Orchestrator) (*temporalchain.Runner, func(), error) {
	c, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		return nil, nil, fmt.Errorf("dial temporal: %w", err)
	}

	acts := &temporalchain.Activities{Dispatch: orch.DispatchStep}
	runner, err := temporalchain.NewRunner(c, cfg.TemporalTaskQueue, acts)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	closeFn := func() {
		runner.Close()
		c.Close()
	}
	return runner, closeFn, nil
}
