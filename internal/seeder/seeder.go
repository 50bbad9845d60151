// Package seeder provisions API keys for the HTTP API.
package seeder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vnmchuo/model-orchestrator/internal/auth"
)

const (
	DevAPIKey   = "dev-api-key-12345"
	DevTenantID = "00000000-0000-0000-0000-000000000001"
)

// NewKey returns a fresh random API key.
func NewKey() string {
	return "mo-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SeedAPIKey stores key for tenantID with a tokens-per-minute budget
// (0 = server default). Only the hash is persisted.
func SeedAPIKey(ctx context.Context, store auth.Store, key, tenantID string, tpm int64) (*auth.APIKey, error) {
	if key == "" {
		return nil, fmt.Errorf("seeder: empty key")
	}
	if tenantID == "" {
		tenantID = uuid.NewString()
	}
	apiKey := &auth.APIKey{
		TenantID:  tenantID,
		KeyHash:   auth.HashKey(key),
		RateLimit: tpm,
		Active:    true,
	}
	if err := store.Create(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("seeder: %w", err)
	}
	return apiKey, nil
}
