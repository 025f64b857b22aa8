package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration. Values are loaded from a
// YAML file, then overridden by environment variables. Every tunable the
// pipeline exposes lives here so behavior differences between deployments
// are visible in one place.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Shield    ShieldConfig    `yaml:"shield"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retention RetentionConfig `yaml:"retention"`
	AI        AIConfig        `yaml:"ai"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig configures the HTTP transport
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig configures the backing store. An empty URL selects the
// in-memory store (development only).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// PipelineConfig configures the gate executor
type PipelineConfig struct {
	OverallTimeout   time.Duration `yaml:"overall_timeout"`
	MaxRegenerations int           `yaml:"max_regenerations"`
}

// ShieldConfig configures the shield engine.
// WarnAndContinue selects the softer medium-signal behavior: the warning is
// attached to the response and the pipeline continues instead of halting.
type ShieldConfig struct {
	WarnAndContinue bool          `yaml:"warn_and_continue"`
	AckTokenTTL     time.Duration `yaml:"ack_token_ttl"`
}

// RateLimitConfig configures per-tier limits
type RateLimitConfig struct {
	Tiers map[string]TierLimit `yaml:"tiers"`
}

// TierLimit is a single tier's token-bucket parameters
type TierLimit struct {
	WindowMs   int64   `yaml:"window_ms"`
	MaxTokens  float64 `yaml:"max_tokens"`
	RefillRate float64 `yaml:"refill_rate"` // tokens per second
}

// SchedulerConfig configures the background scheduler
type SchedulerConfig struct {
	InstanceID   string        `yaml:"instance_id"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LockMargin   time.Duration `yaml:"lock_margin"`
}

// RetentionConfig configures data retention behavior
type RetentionConfig struct {
	PurgeArchivesOnErasure bool `yaml:"purge_archives_on_erasure"`
}

// AIConfig configures the LLM provider
type AIConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when no file is supplied
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			OverallTimeout:   30 * time.Second,
			MaxRegenerations: 2,
		},
		Shield: ShieldConfig{
			WarnAndContinue: false,
			AckTokenTTL:     10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Tiers: map[string]TierLimit{
				"anonymous": {WindowMs: 60_000, MaxTokens: 10, RefillRate: 10.0 / 60.0},
				"standard":  {WindowMs: 60_000, MaxTokens: 60, RefillRate: 1},
				"premium":   {WindowMs: 60_000, MaxTokens: 300, RefillRate: 5},
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval: time.Second,
			LockMargin:   30 * time.Second,
		},
		AI: AIConfig{
			Provider:    "mock",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads configuration from an optional YAML file and applies
// environment overrides. A missing path returns defaults plus overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, ErrConfiguration)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", path, ErrConfiguration)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies WARDLINE_* environment variables on top of the
// file values. Environment wins so deployments can tune without a new file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WARDLINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WARDLINE_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("WARDLINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WARDLINE_AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	if v := os.Getenv("WARDLINE_AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("WARDLINE_AI_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("WARDLINE_INSTANCE_ID"); v != "" {
		c.Scheduler.InstanceID = v
	}
	if v := os.Getenv("WARDLINE_ACK_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Shield.AckTokenTTL = d
		}
	}
	if v := os.Getenv("WARDLINE_SHIELD_WARN_AND_CONTINUE"); v != "" {
		c.Shield.WarnAndContinue = v == "true" || v == "1"
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d: %w", c.Server.Port, ErrConfiguration)
	}
	if c.Pipeline.OverallTimeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive: %w", ErrConfiguration)
	}
	if c.Pipeline.MaxRegenerations < 0 {
		return fmt.Errorf("max regenerations cannot be negative: %w", ErrConfiguration)
	}
	if c.Shield.AckTokenTTL <= 0 {
		return fmt.Errorf("ack token TTL must be positive: %w", ErrConfiguration)
	}
	for name, tier := range c.RateLimit.Tiers {
		if tier.MaxTokens <= 0 || tier.RefillRate <= 0 {
			return fmt.Errorf("rate limit tier %q needs positive max_tokens and refill_rate: %w", name, ErrConfiguration)
		}
	}
	return nil
}
