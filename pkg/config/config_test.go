package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HOST", "PORT", "DATA_DIR", "DASHBOARD_API_KEY", "ALLOWED_ORIGINS",
		"RATE_LIMIT_WINDOW_MS", "RATE_LIMIT_MAX_REQUESTS", "LINEAR_WEBHOOK_SECRET",
	}
	saved := make(map[string]string, len(keys))
	for _, k := range keys {
		saved[k] = os.Getenv(k)
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v == "" {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, v)
			}
		}
	})
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("DASHBOARD_API_KEY", "k"))
	require.NoError(t, os.Setenv("LINEAR_WEBHOOK_SECRET", "s"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, "3000", cfg.Port)
	require.NotEmpty(t, cfg.DataDir)
	require.Equal(t, 60, cfg.RateLimitMax)
	require.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_ParsesAllowedOriginsCSV(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("DASHBOARD_API_KEY", "k"))
	require.NoError(t, os.Setenv("LINEAR_WEBHOOK_SECRET", "s"))
	require.NoError(t, os.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_MissingAPIKeyFails(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("LINEAR_WEBHOOK_SECRET", "s"))

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingRequired)
}

func TestLoad_InvalidRateLimitValueFails(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("DASHBOARD_API_KEY", "k"))
	require.NoError(t, os.Setenv("LINEAR_WEBHOOK_SECRET", "s"))
	require.NoError(t, os.Setenv("RATE_LIMIT_MAX_REQUESTS", "not-a-number"))

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalidValue)
}
