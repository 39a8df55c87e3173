// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Routing mode values.
const (
	RoutingModeLLM    = "llm"
	RoutingModeLocal  = "local"
	RoutingModeShadow = "shadow"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	KnowledgeDir string
	LLM          LLMConfig
	Routing      RoutingConfig
	RateLimit    RateLimitConfig
}

// LLMConfig points the pipeline at an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RoutingConfig controls pipeline pass behavior. Threshold and budget
// values are configuration, not contract constants.
type RoutingConfig struct {
	Mode                string // llm, local or shadow
	ConfidenceThreshold float64
	MaxSections         int // rulebook targeting cap
	ContextBudget       int // serialized bytes across all partitions
	SynthesisRetries    int
	Pass1Timeout        time.Duration
	Pass2Timeout        time.Duration
	Pass3Timeout        time.Duration
	Pass4Timeout        time.Duration
}

// RateLimitConfig controls per-user query throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/shadowscribe.db"),
		KnowledgeDir: getEnv("KNOWLEDGE_DIR", "./knowledge"),
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "llama3.1"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Routing: RoutingConfig{
			Mode:                getEnv("ROUTING_MODE", RoutingModeLLM),
			ConfidenceThreshold: getEnvFloat("ROUTING_CONFIDENCE_THRESHOLD", 0.4),
			MaxSections:         getEnvInt("RULEBOOK_MAX_SECTIONS", 5),
			ContextBudget:       getEnvInt("CONTEXT_BUDGET_BYTES", 24000),
			SynthesisRetries:    getEnvInt("SYNTHESIS_MAX_RETRIES", 2),
			Pass1Timeout:        getEnvDuration("PASS1_TIMEOUT", 20*time.Second),
			Pass2Timeout:        getEnvDuration("PASS2_TIMEOUT", 20*time.Second),
			Pass3Timeout:        getEnvDuration("PASS3_TIMEOUT", 15*time.Second),
			Pass4Timeout:        getEnvDuration("PASS4_TIMEOUT", 120*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.KnowledgeDir == "" {
		return fmt.Errorf("KNOWLEDGE_DIR cannot be empty")
	}
	switch c.Routing.Mode {
	case RoutingModeLLM, RoutingModeLocal, RoutingModeShadow:
	default:
		return fmt.Errorf("ROUTING_MODE must be one of llm, local, shadow (got %q)", c.Routing.Mode)
	}
	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("ROUTING_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if c.Routing.MaxSections <= 0 {
		return fmt.Errorf("RULEBOOK_MAX_SECTIONS must be > 0")
	}
	if c.Routing.ContextBudget <= 0 {
		return fmt.Errorf("CONTEXT_BUDGET_BYTES must be > 0")
	}
	if c.Routing.SynthesisRetries < 0 {
		return fmt.Errorf("SYNTHESIS_MAX_RETRIES cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
