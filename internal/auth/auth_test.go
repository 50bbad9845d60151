package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	keys    map[string]*APIKey
	lookups int
}

func (f *fakeStore) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	f.lookups++
	k, ok := f.keys[HashKey(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func (f *fakeStore) Create(ctx context.Context, apiKey *APIKey) error {
	f.keys[apiKey.KeyHash] = apiKey
	return nil
}

func (f *fakeStore) Revoke(ctx context.Context, keyID string) error { return nil }

func newFakeStore() *fakeStore {
	s := &fakeStore{keys: map[string]*APIKey{}}
	_ = s.Create(context.Background(), &APIKey{ID: "k1", TenantID: "tenant-a", KeyHash: HashKey("secret"), RateLimit: 500, Active: true})
	return s
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantTenant string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", wantStatus: http.StatusUnauthorized},
		{name: "unknown key", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid key", header: "Bearer secret", wantStatus: http.StatusOK, wantTenant: "tenant-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTenant string
			var gotKey *APIKey
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTenant = GetTenantID(r.Context())
				gotKey = GetAPIKey(r.Context())
				assert.NotEmpty(t, GetRequestID(r.Context()))
			})

			handler := NewMiddleware(newFakeStore(), nil, zerolog.Nop())(next)
			req := httptest.NewRequest(http.MethodGet, "/v1/report", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantTenant, gotTenant)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
			if tt.wantTenant != "" {
				assert.Equal(t, int64(500), gotKey.RateLimit)
			}
		})
	}
}

func TestHashKey_Stable(t *testing.T) {
	assert.Equal(t, HashKey("abc"), HashKey("abc"))
	assert.NotEqual(t, HashKey("abc"), HashKey("abd"))
	assert.Len(t, HashKey("abc"), 64)
}
