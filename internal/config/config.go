package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the cook-along voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// AgentProvider selects the voice backend: auto|elevenlabs|mock.
	AgentProvider string

	ElevenLabsAPIKey     string
	ElevenLabsAgentID    string
	ElevenLabsAPIBaseURL string
	ElevenLabsWSBaseURL  string

	// CleanupGrace is how long an unmounted session survives before its
	// voice connection is torn down. It must absorb one browser remount
	// cycle (dev-mode double effects, hot reloads) without meaningfully
	// delaying a real teardown.
	CleanupGrace      time.Duration
	KeepAliveInterval time.Duration

	Language        string
	DefaultRecipeID string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "cookalong"),
		AllowAnyOrigin:       false,
		AgentProvider:        envOrDefault("AGENT_PROVIDER", "auto"),
		ElevenLabsAPIKey:     trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsAgentID:    trimmedEnv("ELEVENLABS_AGENT_ID"),
		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:  envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		Language:             envOrDefault("COOK_LANGUAGE", "en"),
		DefaultRecipeID:      envOrDefault("COOK_DEFAULT_RECIPE", "pasta-carbonara"),
		DatabaseURL:          trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		CleanupGrace:             120 * time.Millisecond,
		KeepAliveInterval:        5 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CleanupGrace, err = durationFromEnv("APP_CLEANUP_GRACE", cfg.CleanupGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveInterval, err = durationFromEnv("APP_KEEPALIVE_INTERVAL", cfg.KeepAliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CleanupGrace <= 0 {
		return Config{}, fmt.Errorf("APP_CLEANUP_GRACE must be positive")
	}
	if cfg.CleanupGrace > 2*time.Second {
		return Config{}, fmt.Errorf("APP_CLEANUP_GRACE above 2s would delay real teardowns")
	}
	if cfg.KeepAliveInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("APP_KEEPALIVE_INTERVAL must be at least 100ms")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AgentProvider)) {
	case "auto", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("invalid AGENT_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.AgentProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
