package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a developer .env out of the test
	// Setenv registers the restore; unset then exercises the defaults.
	keys := []string{"PORT", "HEALTH_TTL", "DEFAULT_RATE_LIMIT_TPM", "OTEL_EXPORTER_TYPE", "OLLAMA_HOST", "POSTGRES_DSN", "BACKENDS_FILE"}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	unset(t, keys...)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.HealthTTL)
	assert.Equal(t, int64(100000), cfg.DefaultRateLimitTPM)
	assert.Equal(t, "none", cfg.OTELExporterType)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.OllamaHost)
	assert.Equal(t, "gsk-test", cfg.Credentials[backend.ProviderGroq])
	assert.Empty(t, cfg.PostgresDSN)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Positive(t, reg.Len())
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		key, value string
	}{
		{"HEALTH_TTL", "five minutes"},
		{"HEALTH_TTL", "-1s"},
		{"DEFAULT_RATE_LIMIT_TPM", "lots"},
		{"DEFAULT_RATE_LIMIT_TPM", "0"},
		{"OTEL_EXPORTER_TYPE", "jaeger"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}
