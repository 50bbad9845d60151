package gemini

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
		ID:           "gemini-flash",
		Provider:     backend.ProviderGemini,
		Model:        "gemini-1.5-flash",
		BaseURL:      url,
		RequiresAuth: true,
		APIKey:       "test-key",
		Timeout:      time.Second,
	}
}

func TestInvoke_Mock(t *testing.T) {
	var got geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("Expected key query param, got %q", r.URL.Query().Get("key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Parts: []geminiPart{{Text: "Hello from mock!"}},
					},
				},
			},
			UsageMetadata: geminiUsageMetadata{
				PromptTokenCount:     10,
				CandidatesTokenCount: 20,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(server.Client())
	resp, err := p.Invoke(context.Background(), testBackend(server.URL), &provider.Call{System: "sys", Prompt: "hi", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if resp.Text != "Hello from mock!" {
		t.Errorf("Expected 'Hello from mock!', got %s", resp.Text)
	}
	if resp.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 20 {
		t.Errorf("Expected 20 output tokens, got %d", resp.OutputTokens)
	}
	if got.SystemInstruction == nil || got.GenerationConfig.MaxOutputTokens != 100 {
		t.Errorf("Unexpected request body: %+v", got)
	}
}

func TestInvoke_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := New(nil).Invoke(context.Background(), testBackend(server.URL), &provider.Call{Prompt: "hi"})
	if !errors.Is(err, provider.ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" {
			t.Errorf("Unexpected probe path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := New(nil).Probe(context.Background(), testBackend(server.URL))
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 StatusError, got %v", err)
	}
}
