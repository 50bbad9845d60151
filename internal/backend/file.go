package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

// FileConfig is the on-disk registry format, readable as YAML or TOML.
type FileConfig struct {
	Backends    []FileBackend       `yaml:"backends" toml:"backends"`
	Preferences map[string][]string `yaml:"preferences" toml:"preferences"`
	Fallback    []string            `yaml:"fallback" toml:"fallback"`
}

type FileBackend struct {
	ID           string   `yaml:"id" toml:"id"`
	Provider     string   `yaml:"provider" toml:"provider"`
	Model        string   `yaml:"model" toml:"model"`
	BaseURL      string   `yaml:"base_url" toml:"base_url"`
	RequiresAuth bool     `yaml:"requires_auth" toml:"requires_auth"`
	APIKeyEnv    string   `yaml:"api_key_env" toml:"api_key_env"`
	MaxTokens    int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  float64  `yaml:"temperature" toml:"temperature"`
	Timeout      string   `yaml:"timeout" toml:"timeout"`
	CostPer1K    float64  `yaml:"cost_per_1k" toml:"cost_per_1k"`
	Reliability  float64  `yaml:"reliability" toml:"reliability"`
	Speed        float64  `yaml:"speed" toml:"speed"`
	Quality      float64  `yaml:"quality" toml:"quality"`
	Tasks        []string `yaml:"tasks" toml:"tasks"`
}

// LoadFile reads a registry from a .yaml/.yml or .toml file. Keys come from
// api_key_env when set, otherwise from creds by provider.
func LoadFile(path string, creds Credentials) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backends file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("%w: unsupported backends file extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse backends file %s: %w", path, err)
	}
	return fc.Build(creds)
}

// Build converts the file form into a validated Registry.
func (fc *FileConfig) Build(creds Credentials) (*Registry, error) {
	backends := make([]*Config, 0, len(fc.Backends))
	for _, fb := range fc.Backends {
		b, err := fb.toConfig(creds)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	prefs := make(map[task.Type][]string, len(fc.Preferences))
	for name, order := range fc.Preferences {
		t, err := task.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("%w: preferences: %v", ErrInvalidConfig, err)
		}
		prefs[t] = order
	}
	return NewRegistry(backends, prefs, fc.Fallback)
}

func (fb FileBackend) toConfig(creds Credentials) (*Config, error) {
	b := &Config{
		ID:           fb.ID,
		Provider:     Provider(strings.ToLower(fb.Provider)),
		Model:        fb.Model,
		BaseURL:      fb.BaseURL,
		RequiresAuth: fb.RequiresAuth,
		MaxTokens:    fb.MaxTokens,
		Temperature:  fb.Temperature,
		Timeout:      DefaultTimeout,
		CostPer1K:    fb.CostPer1K,
		Reliability:  fb.Reliability,
		Speed:        fb.Speed,
		Quality:      fb.Quality,
	}
	if b.BaseURL == "" {
		b.BaseURL = b.Provider.DefaultBaseURL()
	}
	if b.MaxTokens == 0 {
		b.MaxTokens = DefaultMaxTokens
	}
	if fb.Timeout != "" {
		d, err := time.ParseDuration(fb.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: timeout: %v", ErrInvalidConfig, fb.ID, err)
		}
		b.Timeout = d
	}
	if fb.APIKeyEnv != "" {
		b.APIKey = os.Getenv(fb.APIKeyEnv)
	} else {
		b.APIKey = creds[b.Provider]
	}
	for _, name := range fb.Tasks {
		t, err := task.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, fb.ID, err)
		}
		b.Tasks = append(b.Tasks, t)
	}
	return b, nil
}
