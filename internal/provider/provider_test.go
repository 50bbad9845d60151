package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
)

type stubAdapter struct {
	invoked, probed int
}

func (s *stubAdapter) Invoke(ctx context.Context, b *backend.Config, call *Call) (*Result, error) {
	s.invoked++
	return &Result{Text: call.Prompt, InputTokens: 3, OutputTokens: 4}, nil
}

func (s *stubAdapter) Probe(ctx context.Context, b *backend.Config) error {
	s.probed++
	return nil
}

func TestTableDispatch(t *testing.T) {
	stub := &stubAdapter{}
	table := Table{backend.ProviderOllama: stub}
	b := &backend.Config{ID: "ollama-llama3", Provider: backend.ProviderOllama}

	res, err := table.Invoke(context.Background(), b, &Call{Prompt: "ping"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Text != "ping" || res.TokensUsed() != 7 {
		t.Errorf("Unexpected result %+v", res)
	}
	if err := table.Probe(context.Background(), b); err != nil {
		t.Errorf("Unexpected probe error: %v", err)
	}
	if stub.invoked != 1 || stub.probed != 1 {
		t.Errorf("Expected one invoke and one probe, got %d/%d", stub.invoked, stub.probed)
	}
}

func TestTableUnsupportedProvider(t *testing.T) {
	table := Table{}
	b := &backend.Config{ID: "gemini-flash", Provider: backend.ProviderGemini}

	if _, err := table.Invoke(context.Background(), b, &Call{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
	}
	if err := table.Probe(context.Background(), b); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	ok := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
	if err := CheckStatus(backend.ProviderOpenAI, ok); err != nil {
		t.Errorf("Expected nil for 200, got %v", err)
	}

	bad := &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader("overloaded"))}
	err := CheckStatus(backend.ProviderOpenAI, bad)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != 503 || se.Body != "overloaded" {
		t.Errorf("Unexpected status error %+v", se)
	}
	if !strings.Contains(err.Error(), "openai api error (status 503)") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
