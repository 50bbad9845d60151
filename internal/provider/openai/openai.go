// Package openai implements the chat-completions protocol used by OpenAI
// and the compatible providers (Groq, OpenRouter, DeepSeek).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
)

type OpenAIProvider struct {
	client *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(client *http.Client) *OpenAIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) Invoke(ctx context.Context, b *backend.Config, call *provider.Call) (*provider.Result, error) {
	body, err := json.Marshal(mapRequest(b, call))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", b.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, b)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := provider.CheckStatus(b.Provider, resp); err != nil {
		return nil, err
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, fmt.Errorf("%s: malformed response: %w", b.Provider, err)
	}

	if len(openAIResp.Choices) == 0 || openAIResp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%s api returned no choices: %w", b.Provider, provider.ErrEmptyResponse)
	}

	model := openAIResp.Model
	if model == "" {
		model = b.Model
	}
	return &provider.Result{
		Text:         openAIResp.Choices[0].Message.Content,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
		Model:        model,
	}, nil
}

// Probe lists models, which every compatible provider serves cheaply.
func (p *OpenAIProvider) Probe(ctx context.Context, b *backend.Config) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	setAuth(httpReq, b)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return provider.CheckStatus(b.Provider, resp)
}

func setAuth(r *http.Request, b *backend.Config) {
	if b.APIKey != "" {
		r.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.APIKey))
	}
}

func mapRequest(b *backend.Config, call *provider.Call) openAIRequest {
	var messages []openAIMessage
	if call.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: call.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: call.Prompt})

	return openAIRequest{
		Model:       b.Model,
		Messages:    messages,
		MaxTokens:   call.MaxTokens,
		Temperature: call.Temperature,
	}
}
