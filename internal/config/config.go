// Package config defines the engine configuration and its YAML loader.
//
// DESIGN: One Config struct, one YAML file, environment variable expansion
// with ${VAR} syntax, and Validate() methods per section. Nothing in here
// holds process-wide mutable state; callers go through Provider for
// refreshable reads.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the booking engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Security  SecurityConfig  `yaml:"security"`
	Budget    BudgetConfig    `yaml:"budget"`
	Loop      LoopConfig      `yaml:"loop"`
	Store     StoreConfig     `yaml:"store"`
	Inventory ServiceConfig   `yaml:"inventory"`
	Risk      ServiceConfig   `yaml:"risk"`
	Weather   ServiceConfig   `yaml:"weather"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Features  map[string]bool `yaml:"features"`
	// Pricing overrides the built-in per-model price table.
	// Keyed by model name; values are USD per million tokens.
	Pricing map[string]PriceOverride `yaml:"pricing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// ModelConfig selects the model provider and its invocation parameters.
type ModelConfig struct {
	// Provider is "anthropic" or "bedrock".
	Provider string `yaml:"provider"`
	// Name is the model identifier sent to the provider.
	Name string `yaml:"name"`
	// BatchName is the (cheaper) model used by batch analytics.
	// Empty means use Name.
	BatchName string `yaml:"batch_name"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	// Region is the AWS region for the bedrock provider.
	Region    string   `yaml:"region"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	Backoff   Duration `yaml:"backoff"`

	Reasoning ReasoningConfig `yaml:"reasoning"`
}

// ReasoningConfig controls extended-reasoning escalation.
type ReasoningConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenThreshold is the estimated input size above which escalation
	// is considered. Ambiguity and multi-constraint markers lower the
	// effective bar (see orchestrator complexity heuristic).
	TokenThreshold int `yaml:"token_threshold"`
	BudgetTokens   int `yaml:"budget_tokens"`
}

// SecurityConfig holds security gate settings.
type SecurityConfig struct {
	RatePerMinute  int  `yaml:"rate_per_minute"`
	RateBurst      int  `yaml:"rate_burst"`
	BotDetection   bool `yaml:"bot_detection"`
	InjectionScan  bool `yaml:"injection_scan"`
	MaxInputLength int  `yaml:"max_input_length"`
}

// BudgetConfig holds cost ceiling settings.
// Cost tracking is always active; Enabled controls enforcement only.
type BudgetConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SessionCap  float64 `yaml:"session_cap"`  // USD per session. 0 = unlimited.
	IdentityCap float64 `yaml:"identity_cap"` // USD per caller identity. 0 = unlimited.
	GlobalCap   float64 `yaml:"global_cap"`   // USD across all sessions. 0 = unlimited.
}

// LoopConfig bounds the orchestrator turn loop.
type LoopConfig struct {
	MaxToolLoops int      `yaml:"max_tool_loops"`
	ToolWorkers  int      `yaml:"tool_workers"`
	ToolTimeout  Duration `yaml:"tool_timeout"`
}

// StoreConfig selects session persistence.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ServiceConfig describes an external HTTP collaborator.
type ServiceConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// AnalyticsConfig controls the offline batch analytics sweep.
type AnalyticsConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Interval     Duration `yaml:"interval"`
	PollInterval Duration `yaml:"poll_interval"`
	AbandonAfter Duration `yaml:"abandon_after"`
}

// PriceOverride is a config-supplied model price entry.
type PriceOverride struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// envVarPattern matches ${VAR} references in the config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse parses YAML config bytes with ${VAR} environment expansion.
func Parse(raw []byte) (*Config, error) {
	expanded := envVarPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadTimeout:  Duration(DefaultServerReadTimeout),
			WriteTimeout: Duration(DefaultServerWriteTimeout),
		},
		Model: ModelConfig{
			Provider:  "anthropic",
			Name:      "claude-sonnet-4-5",
			MaxTokens: DefaultMaxResponseTokens,
			Timeout:   Duration(DefaultModelTimeout),
			Retries:   DefaultModelRetries,
			Backoff:   Duration(DefaultRetryBackoff),
			Reasoning: ReasoningConfig{
				TokenThreshold: DefaultReasoningTokenThreshold,
				BudgetTokens:   DefaultReasoningBudgetTokens,
			},
		},
		Security: SecurityConfig{
			RatePerMinute:  DefaultRatePerMinute,
			RateBurst:      DefaultRateBurst,
			BotDetection:   true,
			InjectionScan:  true,
			MaxInputLength: DefaultMaxInputLength,
		},
		Loop: LoopConfig{
			MaxToolLoops: DefaultMaxToolLoops,
			ToolWorkers:  DefaultToolWorkers,
			ToolTimeout:  Duration(DefaultToolTimeout),
		},
		Store: StoreConfig{Driver: "memory"},
		Inventory: ServiceConfig{
			Timeout: Duration(DefaultInventoryTimeout),
		},
		Risk: ServiceConfig{
			Timeout: Duration(DefaultRiskTimeout),
		},
		Weather: ServiceConfig{
			Timeout: Duration(DefaultWeatherTimeout),
		},
		Analytics: AnalyticsConfig{
			Interval:     Duration(DefaultAnalyticsInterval),
			PollInterval: Duration(DefaultBatchPollInterval),
			AbandonAfter: Duration(DefaultAbandonAfter),
		},
		Features: map[string]bool{},
	}
}

// applyDefaults fills zero values left by partial YAML files.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultServerReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultServerWriteTimeout)
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = Duration(DefaultModelTimeout)
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = DefaultMaxResponseTokens
	}
	if c.Model.Backoff == 0 {
		c.Model.Backoff = Duration(DefaultRetryBackoff)
	}
	if c.Model.Reasoning.TokenThreshold == 0 {
		c.Model.Reasoning.TokenThreshold = DefaultReasoningTokenThreshold
	}
	if c.Model.Reasoning.BudgetTokens == 0 {
		c.Model.Reasoning.BudgetTokens = DefaultReasoningBudgetTokens
	}
	if c.Security.RatePerMinute == 0 {
		c.Security.RatePerMinute = DefaultRatePerMinute
	}
	if c.Security.RateBurst == 0 {
		c.Security.RateBurst = DefaultRateBurst
	}
	if c.Security.MaxInputLength == 0 {
		c.Security.MaxInputLength = DefaultMaxInputLength
	}
	if c.Loop.MaxToolLoops == 0 {
		c.Loop.MaxToolLoops = DefaultMaxToolLoops
	}
	if c.Loop.ToolWorkers == 0 {
		c.Loop.ToolWorkers = DefaultToolWorkers
	}
	if c.Loop.ToolTimeout == 0 {
		c.Loop.ToolTimeout = Duration(DefaultToolTimeout)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Inventory.Timeout == 0 {
		c.Inventory.Timeout = Duration(DefaultInventoryTimeout)
	}
	if c.Risk.Timeout == 0 {
		c.Risk.Timeout = Duration(DefaultRiskTimeout)
	}
	if c.Weather.Timeout == 0 {
		c.Weather.Timeout = Duration(DefaultWeatherTimeout)
	}
	if c.Analytics.Interval == 0 {
		c.Analytics.Interval = Duration(DefaultAnalyticsInterval)
	}
	if c.Analytics.PollInterval == 0 {
		c.Analytics.PollInterval = Duration(DefaultBatchPollInterval)
	}
	if c.Analytics.AbandonAfter == 0 {
		c.Analytics.AbandonAfter = Duration(DefaultAbandonAfter)
	}
	if c.Features == nil {
		c.Features = map[string]bool{}
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Model.Provider {
	case "anthropic", "bedrock":
	default:
		return fmt.Errorf("model.provider must be anthropic or bedrock, got %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Retries < 0 {
		return fmt.Errorf("model.retries must be >= 0, got %d", c.Model.Retries)
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if c.Loop.MaxToolLoops < 1 {
		return fmt.Errorf("loop.max_tool_loops must be >= 1, got %d", c.Loop.MaxToolLoops)
	}
	if c.Loop.ToolWorkers < 1 {
		return fmt.Errorf("loop.tool_workers must be >= 1, got %d", c.Loop.ToolWorkers)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite driver")
	}
	return nil
}

// Validate checks budget configuration.
func (b *BudgetConfig) Validate() error {
	if b.SessionCap < 0 {
		return fmt.Errorf("budget.session_cap must be >= 0, got %f", b.SessionCap)
	}
	if b.IdentityCap < 0 {
		return fmt.Errorf("budget.identity_cap must be >= 0, got %f", b.IdentityCap)
	}
	if b.GlobalCap < 0 {
		return fmt.Errorf("budget.global_cap must be >= 0, got %f", b.GlobalCap)
	}
	return nil
}

// FeatureEnabled reports whether a named feature flag is on.
func (c *Config) FeatureEnabled(name string) bool {
	return c.Features[name]
}
