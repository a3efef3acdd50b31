// Package config loads the control plane's environment-derived settings
// (spec §6) the way tarsy's pkg/config resolves SystemYAMLConfig:
// apply-defaults-then-validate, with a Stats()-style introspection method
// for a health endpoint.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process-wide settings named in spec §6.
type Config struct {
	Host            string
	Port            string
	DataDir         string
	APIKey          string
	AllowedOrigins  []string
	RateLimitWindow time.Duration
	RateLimitMax    int
	WebhookSecret   string
}

// Stats is a snapshot for the health endpoint — deliberately omits the
// secret-bearing fields (APIKey, WebhookSecret).
type Stats struct {
	Host            string
	Port            string
	DataDir         string
	AllowedOrigins  int
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Stats returns configuration statistics for logging/health reporting.
func (c *Config) Stats() Stats {
	return Stats{
		Host:            c.Host,
		Port:            c.Port,
		DataDir:         c.DataDir,
		AllowedOrigins:  len(c.AllowedOrigins),
		RateLimitWindow: c.RateLimitWindow,
		RateLimitMax:    c.RateLimitMax,
	}
}

// Load resolves Config from the process environment: apply defaults, then
// validate required values, mirroring tarsy's Initialize (load → validate).
func Load() (*Config, error) {
	windowMS, err := parseIntEnv("RATE_LIMIT_WINDOW_MS", 60_000)
	if err != nil {
		return nil, err
	}
	maxRequests, err := parseIntEnv("RATE_LIMIT_MAX_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	defaultDataDir := "./data"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDataDir = home + "/.opencode-dashboard"
	}

	cfg := &Config{
		Host:            getEnv("HOST", "127.0.0.1"),
		Port:            getEnv("PORT", "3000"),
		DataDir:         getEnv("DATA_DIR", defaultDataDir),
		APIKey:          os.Getenv("DASHBOARD_API_KEY"),
		AllowedOrigins:  splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitWindow: time.Duration(windowMS) * time.Millisecond,
		RateLimitMax:    maxRequests,
		WebhookSecret:   os.Getenv("LINEAR_WEBHOOK_SECRET"),
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("%w: DASHBOARD_API_KEY", ErrMissingRequired)
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: LINEAR_WEBHOOK_SECRET", ErrMissingRequired)
	}
	if cfg.RateLimitMax <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_MAX_REQUESTS must be positive", ErrInvalidValue)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_WINDOW_MS must be positive", ErrInvalidValue)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, key, raw, err)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
