package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Persistence, all optional
	PostgresDSN      string // ledger, usage logs and API keys
	RedisAddr        string // shared health cache, auth cache and rate limiting
	LedgerSQLitePath string // ledger persistence when Postgres is not configured

	// Backends
	BackendsFile string // yaml or toml; built-in table when empty
	OllamaHost   string // default: http://127.0.0.1:11434
	Credentials  backend.Credentials
	HealthTTL    time.Duration // default: 5m

	// Logging
	LogLevel  string // default: info
	LogFormat string // "json" or "console"

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		LedgerSQLitePath:     os.Getenv("LEDGER_SQLITE_PATH"),
		BackendsFile:         os.Getenv("BACKENDS_FILE"),
		OllamaHost:           getEnv("OLLAMA_HOST", backend.ProviderOllama.DefaultBaseURL()),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "none"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		Credentials: backend.Credentials{
			backend.ProviderOpenAI:     os.Getenv("OPENAI_API_KEY"),
			backend.ProviderAnthropic:  os.Getenv("ANTHROPIC_API_KEY"),
			backend.ProviderGemini:     os.Getenv("GEMINI_API_KEY"),
			backend.ProviderGroq:       os.Getenv("GROQ_API_KEY"),
			backend.ProviderOpenRouter: os.Getenv("OPENROUTER_API_KEY"),
			backend.ProviderDeepSeek:   os.Getenv("DEEPSEEK_API_KEY"),
		},
	}

	tpm, err := strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_TPM", "100000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	if tpm <= 0 {
		return nil, fmt.Errorf("DEFAULT_RATE_LIMIT_TPM must be positive")
	}
	cfg.DefaultRateLimitTPM = tpm

	ttl, err := time.ParseDuration(getEnv("HEALTH_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("HEALTH_TTL must be positive")
	}
	cfg.HealthTTL = ttl

	switch cfg.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return nil, fmt.Errorf("invalid OTEL_EXPORTER_TYPE %q", cfg.OTELExporterType)
	}

	return cfg, nil
}

// Registry builds the backend table from BackendsFile or the built-in
// defaults.
func (c *Config) Registry() (*backend.Registry, error) {
	if c.BackendsFile != "" {
		return backend.LoadFile(c.BackendsFile, c.Credentials)
	}
	return backend.Defaults(c.OllamaHost, c.Credentials)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
