package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
)

var errNoModels = errors.New("ollama has no models pulled")

type OllamaProvider struct {
	client *http.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func New(client *http.Client) *OllamaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{client: client}
}

func (p *OllamaProvider) Invoke(ctx context.Context, b *backend.Config, call *provider.Call) (*provider.Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:  b.Model,
		Prompt: call.Prompt,
		System: call.System,
		Stream: false,
		Options: generateOptions{
			NumPredict:  call.MaxTokens,
			Temperature: call.Temperature,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := provider.CheckStatus(b.Provider, resp); err != nil {
		return nil, err
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("ollama: malformed response: %w", err)
	}
	if genResp.Response == "" {
		return nil, fmt.Errorf("ollama returned no text: %w", provider.ErrEmptyResponse)
	}

	return &provider.Result{
		Text:         genResp.Response,
		InputTokens:  genResp.PromptEvalCount,
		OutputTokens: genResp.EvalCount,
		Model:        b.Model,
	}, nil
}

// Probe treats a reachable daemon with zero pulled models as unavailable.
func (p *OllamaProvider) Probe(ctx context.Context, b *backend.Config) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := provider.CheckStatus(b.Provider, resp); err != nil {
		return err
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama: malformed tags response: %w", err)
	}
	if len(tags.Models) == 0 {
		return errNoModels
	}
	return nil
}
