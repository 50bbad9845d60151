package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
)

func testBackend(url string) *backend.Config {
	return &backend.Config{
		ID:       "ollama-llama3",
		Provider: backend.ProviderOllama,
		Model:    "llama3",
		BaseURL:  url,
		Timeout:  time.Second,
	}
}

func TestInvoke_Mock(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected /api/generate, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("Expected no auth header for local backend")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:           "llama3",
			Response:        "local answer",
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       30,
		})
	}))
	defer server.Close()

	resp, err := New(server.Client()).Invoke(context.Background(), testBackend(server.URL), &provider.Call{
		System:      "sys",
		Prompt:      "write a haiku",
		MaxTokens:   256,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if resp.Text != "local answer" {
		t.Errorf("Expected 'local answer', got %s", resp.Text)
	}
	if resp.TokensUsed() != 42 {
		t.Errorf("Expected 42 tokens, got %d", resp.TokensUsed())
	}
	if got.Stream {
		t.Error("Expected non-streaming request")
	}
	if got.Options.NumPredict != 256 || got.Options.Temperature != 0.7 || got.System != "sys" {
		t.Errorf("Unexpected request body: %+v", got)
	}
}

func TestInvoke_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"llama3","response":"","done":true}`))
	}))
	defer server.Close()

	_, err := New(nil).Invoke(context.Background(), testBackend(server.URL), &provider.Call{Prompt: "hi"})
	if !errors.Is(err, provider.ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		tags    string
		wantErr error
	}{
		{name: "models pulled", tags: `{"models":[{"name":"llama3:latest"}]}`},
		{name: "no models", tags: `{"models":[]}`, wantErr: errNoModels},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/tags" {
					t.Errorf("Unexpected probe path %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tt.tags))
			}))
			defer server.Close()

			err := New(nil).Probe(context.Background(), testBackend(server.URL))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestProbe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if err := New(nil).Probe(context.Background(), testBackend(url)); err == nil {
		t.Error("Expected error for closed server")
	}
}
