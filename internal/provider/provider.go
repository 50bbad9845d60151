package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrEmptyResponse       = errors.New("empty response")
)

// Call is the provider-neutral request sent to a backend.
type Call struct {
	System      string
	Prompt      string
	TaskType    task.Type
	MaxTokens   int
	Temperature float64
}

type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

func (r *Result) TokensUsed() int {
	return r.InputTokens + r.OutputTokens
}

// Adapter speaks one provider's wire protocol. BaseURL, model and key come
// from the backend config, so a single adapter serves every backend of its
// provider.
type Adapter interface {
	Invoke(ctx context.Context, b *backend.Config, call *Call) (*Result, error)
	Probe(ctx context.Context, b *backend.Config) error
}

// StatusError is returned for any non-2xx provider response.
type StatusError struct {
	Provider   backend.Provider
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// CheckStatus turns a non-2xx response into a StatusError.
func CheckStatus(p backend.Provider, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Provider: p, StatusCode: resp.StatusCode, Body: string(body)}
}

// Table dispatches calls by the backend's provider.
type Table map[backend.Provider]Adapter

func (t Table) adapter(b *backend.Config) (Adapter, error) {
	a, ok := t[b.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, b.Provider)
	}
	return a, nil
}

func (t Table) Invoke(ctx context.Context, b *backend.Config, call *Call) (*Result, error) {
	a, err := t.adapter(b)
	if err != nil {
		return nil, err
	}
	return a.Invoke(ctx, b, call)
}

func (t Table) Probe(ctx context.Context, b *backend.Config) error {
	a, err := t.adapter(b)
	if err != nil {
		return err
	}
	return a.Probe(ctx, b)
}
