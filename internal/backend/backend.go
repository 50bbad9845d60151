// Package backend holds the static table of model backends the
// orchestrator can route to.
package backend

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

var (
	ErrInvalidConfig  = errors.New("invalid backend config")
	ErrUnknownBackend = errors.New("unknown backend")
)

// Provider identifies the wire protocol a backend speaks.
type Provider string

const (
	ProviderOllama     Provider = "ollama"
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
	ProviderGroq       Provider = "groq"
	ProviderOpenRouter Provider = "openrouter"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderLocal      Provider = "local"
)

var defaultBaseURLs = map[Provider]string{
	ProviderOllama:     "http://127.0.0.1:11434",
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderAnthropic:  "https://api.anthropic.com/v1",
	ProviderGemini:     "https://generativelanguage.googleapis.com",
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderLocal:      "",
}

func (p Provider) Known() bool {
	_, ok := defaultBaseURLs[p]
	return ok
}

// DefaultBaseURL returns the public endpoint for the provider.
func (p Provider) DefaultBaseURL() string {
	return defaultBaseURLs[p]
}

const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 2048
	LocalFallbackID  = "local-fallback"
)

// Config describes one concrete model endpoint. Instances are treated as
// immutable once registered.
type Config struct {
	ID           string        `json:"id"`
	Provider     Provider      `json:"provider"`
	Model        string        `json:"model"`
	BaseURL      string        `json:"base_url"`
	RequiresAuth bool          `json:"requires_auth"`
	APIKey       string        `json:"-"`
	MaxTokens    int           `json:"max_tokens"`
	Temperature  float64       `json:"temperature"`
	Timeout      time.Duration `json:"timeout"`
	CostPer1K    float64       `json:"cost_per_1k_tokens"`
	Reliability  float64       `json:"reliability"`
	Speed        float64       `json:"speed"`
	Quality      float64       `json:"quality"`
	Tasks        []task.Type   `json:"tasks"`
}

func (c *Config) Supports(t task.Type) bool {
	for _, s := range c.Tasks {
		if s == t {
			return true
		}
	}
	return false
}

// IsLocal reports whether the backend runs on this machine (or the local
// network) and is probed with the shorter local timeout.
func (c *Config) IsLocal() bool {
	if c.Provider == ProviderLocal {
		return true
	}
	if c.Provider != ProviderOllama {
		return false
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return true
	}
	return false
}

// HasCredentials is false when the backend needs a key nobody configured.
func (c *Config) HasCredentials() bool {
	return !c.RequiresAuth || c.APIKey != ""
}

// CostFor returns the USD cost of the given token count.
func (c *Config) CostFor(tokens int) float64 {
	return float64(tokens) / 1000 * c.CostPer1K
}

func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if !c.Provider.Known() {
		return fmt.Errorf("%w: %s: unknown provider %q", ErrInvalidConfig, c.ID, c.Provider)
	}
	if c.Model == "" && c.Provider != ProviderLocal {
		return fmt.Errorf("%w: %s: model is required", ErrInvalidConfig, c.ID)
	}
	for name, v := range map[string]float64{"reliability": c.Reliability, "speed": c.Speed, "quality": c.Quality} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s: %s score %.2f outside [0,1]", ErrInvalidConfig, c.ID, name, v)
		}
	}
	if c.CostPer1K < 0 {
		return fmt.Errorf("%w: %s: negative cost", ErrInvalidConfig, c.ID)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidConfig, c.ID)
	}
	for _, t := range c.Tasks {
		if !t.Valid() {
			return fmt.Errorf("%w: %s: unknown task type %q", ErrInvalidConfig, c.ID, t)
		}
	}
	return nil
}

// LocalFallback is the zero-cost stub used when no registered backend can
// serve a request. It is never part of a Registry.
func LocalFallback() *Config {
	return &Config{
		ID:          LocalFallbackID,
		Provider:    ProviderLocal,
		Model:       "placeholder",
		MaxTokens:   DefaultMaxTokens,
		Timeout:     time.Second,
		Reliability: 1,
		Tasks:       task.AllTypes(),
	}
}
