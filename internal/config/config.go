// Package config loads and validates the orchestrator's configuration:
// the HTTP front door, the Model Gateway's provider fallback chain, the
// Data Fetcher's store endpoint, phase deadlines, the arbitrator's
// scoring weights, and the agent catalogue path. Values come from a
// YAML file with environment-variable overrides, mirroring the
// teacher's layered config.Load + loadFromEnv convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// ServerConfig configures the reference cmd/orchestrator-service HTTP
// front door. It is never read by the core engine.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// ProviderConfig is one entry in the Model Gateway's ordered fallback
// chain.
type ProviderConfig struct {
	ID          string        `yaml:"id"`
	Kind        string        `yaml:"kind"` // anthropic | bedrock | vertexai | local
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// GatewayConfig configures the Model Gateway as a whole.
type GatewayConfig struct {
	Providers             []ProviderConfig `yaml:"providers"`
	BreakerFailureThreshold uint32         `yaml:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration  `yaml:"breaker_reset_timeout"`
}

// StoreConfig configures the Redis-backed Data Fetcher.
type StoreConfig struct {
	Address          string        `yaml:"address"`
	Password         string        `yaml:"password,omitempty"`
	DB               int           `yaml:"db"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
}

// PhaseConfig sets the per-agent and whole-phase deadlines used by the
// Phase Executor for both phase 1 and phase 2.
type PhaseConfig struct {
	PerAgentTimeout time.Duration `yaml:"per_agent_timeout"`
	PhaseTimeout    time.Duration `yaml:"phase_timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
}

// ScoringConfig holds the arbitrator's weighted composite-score weights.
// The four weights must sum to 1.0.
type ScoringConfig struct {
	PassengerSatisfaction float64 `yaml:"passenger_satisfaction"`
	CostEfficiency        float64 `yaml:"cost_efficiency"`
	DelayReduction        float64 `yaml:"delay_reduction"`
	ExecutionReliability  float64 `yaml:"execution_reliability"`
}

// CatalogueConfig configures the agent prompt catalogue.
type CatalogueConfig struct {
	Path       string `yaml:"path"`
	HotReload  bool   `yaml:"hot_reload"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OrchestratorConfig bounds the whole run, end to end.
type OrchestratorConfig struct {
	GlobalTimeout time.Duration `yaml:"global_timeout"`
}

// Config is the orchestrator's fully resolved configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Store        StoreConfig        `yaml:"store"`
	Phase1       PhaseConfig        `yaml:"phase1"`
	Phase2       PhaseConfig        `yaml:"phase2"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Catalogue    CatalogueConfig    `yaml:"catalogue"`
	Logging      LoggingConfig      `yaml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// Load reads path, applies defaults, layers in environment-variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", MetricsPort: "9090"},
		Gateway: GatewayConfig{
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     30 * time.Second,
		},
		Store: StoreConfig{
			Address:          "localhost:6379",
			DialTimeout:      5 * time.Second,
			RetryMaxAttempts: 5,
			RetryBaseDelay:   30 * time.Second,
		},
		Phase1: PhaseConfig{PerAgentTimeout: 20 * time.Second, PhaseTimeout: 45 * time.Second, MaxConcurrency: 8},
		Phase2: PhaseConfig{PerAgentTimeout: 20 * time.Second, PhaseTimeout: 45 * time.Second, MaxConcurrency: 8},
		Scoring: ScoringConfig{
			PassengerSatisfaction: 0.30,
			CostEfficiency:        0.25,
			DelayReduction:        0.25,
			ExecutionReliability:  0.20,
		},
		Catalogue:    CatalogueConfig{Path: "config/agents.yaml", HotReload: true},
		Logging:      LoggingConfig{Level: "info", Format: "json"},
		Orchestrator: OrchestratorConfig{GlobalTimeout: 120 * time.Second},
	}
}

// applyDefaults fills in zero-valued fields that survived YAML
// unmarshalling (e.g. because the file omitted that section entirely).
func applyDefaults(cfg *Config) {
	if cfg.Store.RetryMaxAttempts == 0 {
		cfg.Store.RetryMaxAttempts = 5
	}
	if cfg.Phase1.MaxConcurrency == 0 {
		cfg.Phase1.MaxConcurrency = 8
	}
	if cfg.Phase2.MaxConcurrency == 0 {
		cfg.Phase2.MaxConcurrency = 8
	}
	if cfg.Catalogue.Path == "" {
		cfg.Catalogue.Path = "config/agents.yaml"
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STORE_ADDRESS"); v != "" {
		cfg.Store.Address = v
	}
	if v := os.Getenv("STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("CATALOGUE_PATH"); v != "" {
		cfg.Catalogue.Path = v
	}
	if v := os.Getenv("GLOBAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GLOBAL_TIMEOUT: %w", err)
		}
		cfg.Orchestrator.GlobalTimeout = d
	}
	if v := os.Getenv("CATALOGUE_HOT_RELOAD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CATALOGUE_HOT_RELOAD: %w", err)
		}
		cfg.Catalogue.HotReload = b
	}
	return nil
}

var validProviderKinds = map[string]bool{
	"anthropic": true,
	"bedrock":   true,
	"vertexai":  true,
	"local":     true,
}

func validate(cfg *Config) error {
	if len(cfg.Gateway.Providers) == 0 {
		return apperrors.NewValidationError("at least one gateway provider is required")
	}
	for _, p := range cfg.Gateway.Providers {
		if p.ID == "" {
			return apperrors.NewValidationError("gateway provider id is required")
		}
		if !validProviderKinds[p.Kind] {
			return apperrors.NewValidationError(fmt.Sprintf("unsupported gateway provider kind: %s", p.Kind))
		}
		if p.Model == "" {
			return apperrors.NewValidationError(fmt.Sprintf("provider %s: model is required", p.ID))
		}
		if p.Temperature < 0 || p.Temperature > 1 {
			return apperrors.NewValidationError(fmt.Sprintf("provider %s: temperature must be between 0.0 and 1.0", p.ID))
		}
		if p.MaxTokens <= 0 {
			return apperrors.NewValidationError(fmt.Sprintf("provider %s: max tokens must be greater than 0", p.ID))
		}
	}

	if cfg.Store.Address == "" {
		return apperrors.NewValidationError("store address is required")
	}

	sum := cfg.Scoring.PassengerSatisfaction + cfg.Scoring.CostEfficiency +
		cfg.Scoring.DelayReduction + cfg.Scoring.ExecutionReliability
	if sum < 0.99 || sum > 1.01 {
		return apperrors.NewValidationError(fmt.Sprintf("scoring weights must sum to 1.0, got %.3f", sum))
	}

	if cfg.Phase1.MaxConcurrency <= 0 || cfg.Phase2.MaxConcurrency <= 0 {
		return apperrors.NewValidationError("phase max concurrency must be greater than 0")
	}

	if cfg.Catalogue.Path == "" {
		return apperrors.NewValidationError("catalogue path is required")
	}

	return nil
}
