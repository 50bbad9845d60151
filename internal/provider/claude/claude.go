package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
)

const anthropicVersion = "2023-06-01"

type ClaudeProvider struct {
	client *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(client *http.Client) *ClaudeProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ClaudeProvider{client: client}
}

func (p *ClaudeProvider) Invoke(ctx context.Context, b *backend.Config, call *provider.Call) (*provider.Result, error) {
	maxTokens := call.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body, err := json.Marshal(claudeRequest{
		Model:       b.Model,
		MaxTokens:   maxTokens,
		Temperature: call.Temperature,
		System:      call.System,
		Messages:    []claudeMessage{{Role: "user", Content: call.Prompt}},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", b.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setHeaders(httpReq, b)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := provider.CheckStatus(b.Provider, resp); err != nil {
		return nil, err
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, fmt.Errorf("anthropic: malformed response: %w", err)
	}

	// responses may interleave non-text blocks
	var text strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("claude api returned no content: %w", provider.ErrEmptyResponse)
	}

	return &provider.Result{
		Text:         text.String(),
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
		Model:        claudeResp.Model,
	}, nil
}

func (p *ClaudeProvider) Probe(ctx context.Context, b *backend.Config) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	setHeaders(httpReq, b)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return provider.CheckStatus(b.Provider, resp)
}

func setHeaders(r *http.Request, b *backend.Config) {
	r.Header.Set("x-api-key", b.APIKey)
	r.Header.Set("anthropic-version", anthropicVersion)
}
