package proxy

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/model-orchestrator/internal/auth"
)

func TestRouter(t *testing.T) {
	h, _ := setupTest(t, nil, true)
	srv := httptest.NewServer(NewRouter(h, nil, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from healthz, got %d", resp.StatusCode)
	}

	body := bytes.NewBufferString(`{"prompt":"hi","task_type":"general"}`)
	resp, err = http.Post(srv.URL+"/v1/execute", "application/json", body)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from execute, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/execute")
	if err != nil {
		t.Fatalf("get execute: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestRouter_AuthRequired(t *testing.T) {
	h, _ := setupTest(t, nil, true)
	deny := auth.Middleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	})
	srv := httptest.NewServer(NewRouter(h, deny, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected public healthz, got %d", resp.StatusCode)
	}
}
