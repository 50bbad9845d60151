package backend

import (
	"time"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

// Credentials maps a provider to the API key used for every backend of
// that provider.
type Credentials map[Provider]string

// Defaults builds the built-in backend table. ollamaHost may be empty.
func Defaults(ollamaHost string, creds Credentials) (*Registry, error) {
	if ollamaHost == "" {
		ollamaHost = ProviderOllama.DefaultBaseURL()
	}

	all := task.AllTypes()
	backends := []*Config{
		{
			ID: "ollama-llama3", Provider: ProviderOllama, Model: "llama3.1:8b", BaseURL: ollamaHost,
			MaxTokens: 2048, Temperature: 0.7, Timeout: 120 * time.Second,
			Reliability: 0.8, Speed: 0.6, Quality: 0.7,
			Tasks: all,
		},
		{
			ID: "ollama-codellama", Provider: ProviderOllama, Model: "codellama:13b", BaseURL: ollamaHost,
			MaxTokens: 4096, Temperature: 0.2, Timeout: 120 * time.Second,
			Reliability: 0.75, Speed: 0.5, Quality: 0.75,
			Tasks: []task.Type{task.CodeGeneration, task.Documentation, task.Analysis},
		},
		{
			ID: "groq-llama3-70b", Provider: ProviderGroq, Model: "llama3-70b-8192", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 30 * time.Second, CostPer1K: 0.0008,
			Reliability: 0.85, Speed: 0.95, Quality: 0.8,
			Tasks: all,
		},
		{
			ID: "openai-gpt4o", Provider: ProviderOpenAI, Model: "gpt-4o", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 60 * time.Second, CostPer1K: 0.01,
			Reliability: 0.95, Speed: 0.7, Quality: 0.95,
			Tasks: all,
		},
		{
			ID: "openai-gpt4o-mini", Provider: ProviderOpenAI, Model: "gpt-4o-mini", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 45 * time.Second, CostPer1K: 0.0006,
			Reliability: 0.93, Speed: 0.85, Quality: 0.8,
			Tasks: all,
		},
		{
			ID: "anthropic-sonnet", Provider: ProviderAnthropic, Model: "claude-3-5-sonnet-20241022", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 60 * time.Second, CostPer1K: 0.015,
			Reliability: 0.95, Speed: 0.7, Quality: 0.97,
			Tasks: all,
		},
		{
			ID: "anthropic-haiku", Provider: ProviderAnthropic, Model: "claude-3-5-haiku-20241022", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 30 * time.Second, CostPer1K: 0.004,
			Reliability: 0.92, Speed: 0.9, Quality: 0.82,
			Tasks: all,
		},
		{
			ID: "gemini-flash", Provider: ProviderGemini, Model: "gemini-1.5-flash", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 30 * time.Second, CostPer1K: 0.0003,
			Reliability: 0.88, Speed: 0.9, Quality: 0.8,
			Tasks: all,
		},
		{
			ID: "openrouter-deepseek", Provider: ProviderOpenRouter, Model: "deepseek/deepseek-chat", RequiresAuth: true,
			MaxTokens: 4096, Temperature: 0.7, Timeout: 60 * time.Second, CostPer1K: 0.0011,
			Reliability: 0.8, Speed: 0.7, Quality: 0.85,
			Tasks: []task.Type{task.CodeGeneration, task.Analysis, task.Research, task.General},
		},
	}
	for _, b := range backends {
		if b.BaseURL == "" {
			b.BaseURL = b.Provider.DefaultBaseURL()
		}
		b.APIKey = creds[b.Provider]
	}

	preferences := map[task.Type][]string{
		task.CodeGeneration: {"anthropic-sonnet", "openai-gpt4o", "ollama-codellama", "openrouter-deepseek", "groq-llama3-70b"},
		task.AppPlanning:    {"anthropic-sonnet", "openai-gpt4o", "gemini-flash", "ollama-llama3"},
		task.Analysis:       {"anthropic-sonnet", "openai-gpt4o", "openrouter-deepseek", "gemini-flash"},
		task.Scoring:        {"openai-gpt4o-mini", "anthropic-haiku", "groq-llama3-70b", "ollama-llama3"},
		task.Documentation:  {"anthropic-haiku", "openai-gpt4o-mini", "ollama-llama3"},
		task.General:        {"ollama-llama3", "groq-llama3-70b", "openai-gpt4o-mini", "anthropic-haiku"},
		task.Creative:       {"anthropic-sonnet", "openai-gpt4o", "gemini-flash"},
		task.Research:       {"openai-gpt4o", "anthropic-sonnet", "openrouter-deepseek", "gemini-flash"},
	}
	fallback := []string{"ollama-llama3", "groq-llama3-70b", "openai-gpt4o-mini", "anthropic-haiku", "gemini-flash"}

	return NewRegistry(backends, preferences, fallback)
}
