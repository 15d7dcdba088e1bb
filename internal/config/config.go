// Package config loads the router's process-wide configuration from
// environment variables layered over an optional YAML file, grounded on
// the teacher's registry/cmd/registry/main.go envOr/envIntOr/envDurationOr
// helpers (itself the same plain-env-var convention used throughout
// cmd/demo/main.go), extended here with a gopkg.in/yaml.v3 file overlay
// since spec.md §6 names both env vars and nothing ruling out a file
// source, and a YAML model-descriptor seed is the natural place to
// declare the router's static model table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/llmrouter/model"
	"goa.design/llmrouter/pipeline"
)

// ProviderCredentials carries the API key/base-URL pair for one provider
// (§6 "per-provider credentials and base URLs").
type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Region  string `yaml:"region"` // bedrock only
}

// Config is the fully resolved process configuration: every option named
// in spec.md §6, plus the SPEC_FULL.md additions (provider base URLs,
// durable chain toggle, descriptor seed file).
type Config struct {
	ListenAddr string

	CostOptimize    bool
	QualityOptimize bool
	LatencyOptimize bool

	FallbackEnabled  bool
	FallbackLevels   int
	ChainEnabled     bool
	ChainDurable     bool
	ChainStep1ID     string
	ChainStep2ID     string
	CacheStrategy    model.CacheStrategy
	RedisCacheTTL    time.Duration
	RequestTimeoutMS int
	MonitorFallbacks bool
	DegradedMode     bool
	AutoDegradedMode bool

	RedisURL          string
	RedisPassword     string
	TemporalHostPort  string
	TemporalTaskQueue string

	DescriptorsFile string
	Descriptors     []model.Descriptor

	Providers map[string]ProviderCredentials `yaml:"providers"`
}

// fileOverlay is the subset of Config a YAML file may populate; env vars
// are read separately and always take precedence, matching the teacher's
// "environment variable if set, otherwise default" convention applied
// here as "environment variable if set, otherwise file value, otherwise
// default."
type fileOverlay struct {
	ListenAddr        string                         `yaml:"listen_addr"`
	CostOptimize      *bool                          `yaml:"cost_optimize"`
	QualityOptimize   *bool                          `yaml:"quality_optimize"`
	LatencyOptimize   *bool                          `yaml:"latency_optimize"`
	FallbackEnabled   *bool                          `yaml:"fallback_enabled"`
	FallbackLevels    *int                           `yaml:"fallback_levels"`
	ChainEnabled      *bool                          `yaml:"chain_enabled"`
	ChainDurable      *bool                          `yaml:"chain_durable"`
	ChainStep1ID      string                         `yaml:"chain_step1_model"`
	ChainStep2ID      string                         `yaml:"chain_step2_model"`
	CacheStrategy     string                         `yaml:"cache_strategy"`
	RedisCacheTTL     *int                           `yaml:"redis_cache_ttl"`
	RequestTimeoutMS  *int                           `yaml:"request_timeout_ms"`
	MonitorFallbacks  *bool                          `yaml:"monitor_fallbacks"`
	DegradedMode      *bool                          `yaml:"degraded_mode"`
	AutoDegradedMode  *bool                          `yaml:"auto_degraded_mode"`
	RedisURL          string                         `yaml:"redis_url"`
	TemporalHostPort  string                         `yaml:"temporal_host_port"`
	TemporalTaskQueue string                         `yaml:"temporal_task_queue"`
	DescriptorsFile   string                         `yaml:"descriptors_file"`
	Descriptors       []model.Descriptor             `yaml:"descriptors"`
	Providers         map[string]ProviderCredentials `yaml:"providers"`
}

// Load resolves the process configuration: defaults, then an optional
// YAML file at path (skipped if path is empty or the file does not
// exist), then environment variable overrides (§6). A missing YAML file
// is not an error, since every option has a usable default; a YAML file
// that cannot be read or parsed, and a configured descriptors file that
// is missing or malformed, are.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		overlay, err := loadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
		applyOverlay(&cfg, overlay)
	}

	applyEnv(&cfg)

	if cfg.DescriptorsFile != "" {
		descriptors, err := loadDescriptors(cfg.DescriptorsFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: load descriptors %s: %w", cfg.DescriptorsFile, err)
		}
		cfg.Descriptors = descriptors
	}
	if len(cfg.Descriptors) == 0 {
		cfg.Descriptors = defaultDescriptors()
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		FallbackEnabled:   true,
		FallbackLevels:    2,
		CacheStrategy:     model.CacheDefault,
		RedisCacheTTL:     300 * time.Second,
		RequestTimeoutMS:  30000,
		MonitorFallbacks:  true,
		TemporalTaskQueue: "llmrouter-chain",
		Providers:         map[string]ProviderCredentials{},
	}
}

func loadFile(path string) (fileOverlay, error) {
	var overlay fileOverlay
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return overlay, err
	}
	if err := yaml.Unmarshal(buf, &overlay); err != nil {
		return overlay, err
	}
	return overlay, nil
}

func applyOverlay(cfg *Config, o fileOverlay) {
	if o.ListenAddr != "" {
		cfg.ListenAddr = o.ListenAddr
	}
	applyBool(&cfg.CostOptimize, o.CostOptimize)
	applyBool(&cfg.QualityOptimize, o.QualityOptimize)
	applyBool(&cfg.LatencyOptimize, o.LatencyOptimize)
	applyBool(&cfg.FallbackEnabled, o.FallbackEnabled)
	if o.FallbackLevels != nil {
		cfg.FallbackLevels = *o.FallbackLevels
	}
	applyBool(&cfg.ChainEnabled, o.ChainEnabled)
	applyBool(&cfg.ChainDurable, o.ChainDurable)
	if o.ChainStep1ID != "" {
		cfg.ChainStep1ID = o.ChainStep1ID
	}
	if o.ChainStep2ID != "" {
		cfg.ChainStep2ID = o.ChainStep2ID
	}
	if o.CacheStrategy != "" {
		cfg.CacheStrategy = model.CacheStrategy(o.CacheStrategy)
	}
	if o.RedisCacheTTL != nil {
		cfg.RedisCacheTTL = time.Duration(*o.RedisCacheTTL) * time.Second
	}
	if o.RequestTimeoutMS != nil {
		cfg.RequestTimeoutMS = *o.RequestTimeoutMS
	}
	applyBool(&cfg.MonitorFallbacks, o.MonitorFallbacks)
	applyBool(&cfg.DegradedMode, o.DegradedMode)
	applyBool(&cfg.AutoDegradedMode, o.AutoDegradedMode)
	if o.RedisURL != "" {
		cfg.RedisURL = o.RedisURL
	}
	if o.TemporalHostPort != "" {
		cfg.TemporalHostPort = o.TemporalHostPort
	}
	if o.TemporalTaskQueue != "" {
		cfg.TemporalTaskQueue = o.TemporalTaskQueue
	}
	if o.DescriptorsFile != "" {
		cfg.DescriptorsFile = o.DescriptorsFile
	}
	if len(o.Descriptors) > 0 {
		cfg.Descriptors = o.Descriptors
	}
	for name, creds := range o.Providers {
		cfg.Providers[name] = creds
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// applyEnv overrides cfg with every recognized environment variable
// (§6), each of which wins over both the default and the file overlay.
func applyEnv(cfg *Config) {
	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.CostOptimize = envBoolOr("COST_OPTIMIZE", cfg.CostOptimize)
	cfg.QualityOptimize = envBoolOr("QUALITY_OPTIMIZE", cfg.QualityOptimize)
	cfg.LatencyOptimize = envBoolOr("LATENCY_OPTIMIZE", cfg.LatencyOptimize)
	cfg.FallbackEnabled = envBoolOr("FALLBACK_ENABLED", cfg.FallbackEnabled)
	cfg.FallbackLevels = envIntOr("FALLBACK_LEVELS", cfg.FallbackLevels)
	cfg.ChainEnabled = envBoolOr("CHAIN_ENABLED", cfg.ChainEnabled)
	cfg.ChainDurable = envBoolOr("CHAIN_DURABLE", cfg.ChainDurable)
	cfg.ChainStep1ID = envOr("CHAIN_STEP1_MODEL", cfg.ChainStep1ID)
	cfg.ChainStep2ID = envOr("CHAIN_STEP2_MODEL", cfg.ChainStep2ID)
	cfg.CacheStrategy = model.CacheStrategy(envOr("CACHE_STRATEGY", string(cfg.CacheStrategy)))
	cfg.RedisCacheTTL = envDurationSecondsOr("REDIS_CACHE_TTL", cfg.RedisCacheTTL)
	cfg.RequestTimeoutMS = envIntOr("REQUEST_TIMEOUT_MS", cfg.RequestTimeoutMS)
	cfg.MonitorFallbacks = envBoolOr("MONITOR_FALLBACKS", cfg.MonitorFallbacks)
	cfg.DegradedMode = envBoolOr("DEGRADED_MODE", cfg.DegradedMode)
	cfg.AutoDegradedMode = envBoolOr("AUTO_DEGRADED_MODE", cfg.AutoDegradedMode)
	cfg.RedisURL = envOr("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.TemporalHostPort = envOr("TEMPORAL_HOST_PORT", cfg.TemporalHostPort)
	cfg.TemporalTaskQueue = envOr("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.DescriptorsFile = envOr("DESCRIPTORS_FILE", cfg.DescriptorsFile)

	for _, p := range []string{"openai", "anthropic", "local", "bedrock"} {
		creds := cfg.Providers[p]
		prefix := strings.ToUpper(p)
		creds.APIKey = envOr(prefix+"_API_KEY", creds.APIKey)
		creds.BaseURL = envOr(prefix+"_BASE_URL", creds.BaseURL)
		creds.Region = envOr(prefix+"_REGION", creds.Region)
		cfg.Providers[p] = creds
	}
}

func loadDescriptors(path string) ([]model.Descriptor, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var descriptors []model.Descriptor
	if err := yaml.Unmarshal(buf, &descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

// defaultDescriptors seeds a small baseline model table when no
// descriptors file is configured, so the router has something to route
// to out of the box.
func defaultDescriptors() []model.Descriptor {
	return []model.Descriptor{
		{ID: "gpt-4o", Provider: "openai", Capabilities: []string{"chat", "tools"}, CostPer1K: ptr(5.0), Quality: 0.9, ContextWindow: 128000, LatencyMS: 900, Available: true, Priority: 10},
		{ID: "gpt-4o-mini", Provider: "openai", Capabilities: []string{"chat", "tools"}, CostPer1K: ptr(0.15), Quality: 0.7, ContextWindow: 128000, LatencyMS: 400, Available: true, Priority: 5},
		{ID: "claude-3-5-sonnet-latest", Provider: "anthropic", Capabilities: []string{"chat", "tools"}, CostPer1K: ptr(3.0), Quality: 0.92, ContextWindow: 200000, LatencyMS: 1000, Available: true, Priority: 10},
		{ID: "claude-3-5-haiku-latest", Provider: "anthropic", Capabilities: []string{"chat"}, CostPer1K: ptr(0.8), Quality: 0.75, ContextWindow: 200000, LatencyMS: 500, Available: true, Priority: 5},
	}
}

func ptr(f float64) *float64 { return &f }

// Pipeline derives a pipeline.Config from the resolved process
// configuration, the boundary between ambient env/file configuration and
// the orchestrator's own typed options.
func (c Config) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.DefaultCacheStrategy = c.CacheStrategy
	cfg.DefaultRoutingName = c.routingStrategyName()
	cfg.FallbackEnabled = c.FallbackEnabled
	cfg.FallbackLevels = c.FallbackLevels
	cfg.AutoDegraded = c.AutoDegradedMode
	cfg.DegradedMode = c.DegradedMode
	cfg.ChainEnabled = c.ChainEnabled
	cfg.ChainStep1ID = c.ChainStep1ID
	cfg.ChainStep2ID = c.ChainStep2ID
	cfg.RequestTimeout = time.Duration(c.RequestTimeoutMS) * time.Millisecond
	return cfg
}

// routingStrategyName maps the COST/QUALITY/LATENCY_OPTIMIZE toggles
// (§6) onto one of the routing engine's registered strategy names;
// QualityOptimize wins ties since "best-model" is also the engine's own
// default.
func (c Config) routingStrategyName() string {
	switch {
	case c.QualityOptimize:
		return "best-model"
	case c.CostOptimize:
		return "lowest-cost"
	case c.LatencyOptimize:
		return "lowest-latency"
	default:
		return "best-model"
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationSecondsOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultVal
}
