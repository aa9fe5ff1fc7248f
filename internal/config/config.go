// Package config assembles the engine configuration from an optional YAML
// file plus environment overrides. All security-sensitive values come from
// the environment only.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DevSecret is the HMAC key used when no secret is configured. Accepted in
// development, fatal in production.
const DevSecret = "dev-insecure-secret"

// Config is the root engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	LLM       LLMConfig       `yaml:"llm"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
}

type ServerConfig struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`       // "development" / "production"
	DemoMode bool   `yaml:"demo_mode"` // serialises per-detector evidence into headers
}

// DetectionConfig tunes the pipeline and aggregator.
type DetectionConfig struct {
	GlobalBudgetMs int     `yaml:"global_budget_ms"` // whole-pipeline deadline
	BotThreshold   float64 `yaml:"bot_threshold"`    // is_bot = p >= threshold
	LogisticK      float64 `yaml:"logistic_k"`       // calibration steepness
	Saturation     float64 `yaml:"saturation"`       // confidence saturation mass

	// SecretKey signs primary signatures. Environment-only; never read
	// from the YAML file.
	SecretKey string `yaml:"-"`

	// Overrides patch embedded detector manifests, keyed by detector name.
	Overrides map[string]DetectorOverride `yaml:"overrides"`

	// PolicyFile optionally replaces the embedded action policy table.
	PolicyFile string `yaml:"policy_file"`
}

// DetectorOverride is a partial manifest patch. Pointer fields distinguish
// "not set" from explicit zero values.
type DetectorOverride struct {
	Enabled    *bool              `yaml:"enabled"`
	Priority   *int               `yaml:"priority"`
	TimeoutMs  *int               `yaml:"timeout_ms"`
	Weights    map[string]float64 `yaml:"weights"`
	Confidence map[string]float64 `yaml:"confidence"`
	Features   map[string]float64 `yaml:"features"`
	Parameters map[string]any     `yaml:"parameters"`
}

// LLMConfig drives the escalation client.
type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"-"` // environment-only
	TriggerLow  float64 `yaml:"trigger_low"`
	TriggerHigh float64 `yaml:"trigger_high"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMs   int     `yaml:"timeout_ms"`
	Weight      float64 `yaml:"weight"`
}

// StateConfig sizes the cross-request structures.
type StateConfig struct {
	WindowSeconds       int    `yaml:"window_seconds"`        // sliding hit-window span
	WindowMaxSignatures int    `yaml:"window_max_signatures"` // eviction bound
	RecentNamesCapacity int    `yaml:"recent_names_capacity"` // LLM name de-dup queue
	RedisURL            string `yaml:"-"`                     // environment-only; empty = in-process window
}

type DatabaseConfig struct {
	URL string `yaml:"-"` // environment-only; empty = learning records dropped
}

// Defaults returns the baseline configuration before file and env merging.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "5440", Env: "development"},
		Detection: DetectionConfig{
			GlobalBudgetMs: 150,
			BotThreshold:   0.7,
			LogisticK:      1.0,
			Saturation:     2.0,
		},
		LLM: LLMConfig{
			TriggerLow:  0.35,
			TriggerHigh: 0.75,
			Temperature: 0.1,
			MaxTokens:   150,
			TimeoutMs:   12000,
			Weight:      1.5,
		},
		State: StateConfig{
			WindowSeconds:       300,
			WindowMaxSignatures: 10000,
			RecentNamesCapacity: 200,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. Returns an error only for a present
// but unreadable or invalid file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv merges environment overrides. Secrets are environment-only by
// design; scalar settings may also be overridden for container deploys.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENGINE_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		c.Server.DemoMode = v == "1" || v == "true"
	}
	if v := os.Getenv("SIGNATURE_SECRET"); v != "" {
		c.Detection.SecretKey = v
	}
	if v := os.Getenv("GLOBAL_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Detection.GlobalBudgetMs = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.State.RedisURL = v
	}
	if v := os.Getenv("LLM_ENABLED"); v != "" {
		c.LLM.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
}

// IsProduction reports whether the engine runs in production mode, which
// tightens secret validation and silences demo surfaces.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate enforces startup-fatal conditions. An insecure signature secret
// in production is a configuration error, not a warning.
func (c *Config) Validate() error {
	if c.Detection.SecretKey == "" {
		if c.IsProduction() {
			return fmt.Errorf("SIGNATURE_SECRET is required in production mode")
		}
		log.Printf("[Config] WARNING: using insecure development signature secret")
		c.Detection.SecretKey = DevSecret
	}
	if c.IsProduction() && c.Detection.SecretKey == DevSecret {
		return fmt.Errorf("refusing to run production mode with the development signature secret")
	}
	if c.Detection.GlobalBudgetMs <= 0 {
		return fmt.Errorf("detection.global_budget_ms must be positive, got %d", c.Detection.GlobalBudgetMs)
	}
	if c.Detection.BotThreshold <= 0 || c.Detection.BotThreshold >= 1 {
		return fmt.Errorf("detection.bot_threshold must be in (0,1), got %g", c.Detection.BotThreshold)
	}
	if c.LLM.TriggerLow >= c.LLM.TriggerHigh {
		return fmt.Errorf("llm.trigger_low (%g) must be below llm.trigger_high (%g)", c.LLM.TriggerLow, c.LLM.TriggerHigh)
	}
	if c.Server.DemoMode {
		if c.IsProduction() {
			return fmt.Errorf("demo mode must not be enabled in production")
		}
		log.Printf("[Config] ============================================================")
		log.Printf("[Config] WARNING: DEMO MODE ENABLED. Per-detector evidence will be")
		log.Printf("[Config] serialised into response headers. Never run this in production.")
		log.Printf("[Config] ============================================================")
	}
	return nil
}
