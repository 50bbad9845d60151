// Package billing keeps one usage row per orchestrated request.
package billing

import (
	"context"
	"time"
)

type UsageLog struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	RequestID    string    `json:"request_id"`
	BackendID    string    `json:"backend_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	TaskType     string    `json:"task_type"`
	TokensUsed   int       `json:"tokens_used"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	UsedFallback bool      `json:"used_fallback"`
	CreatedAt    time.Time `json:"created_at"`
}

// BackendUsage aggregates a tenant's usage of one backend.
type BackendUsage struct {
	BackendID  string  `json:"backend_id"`
	Requests   int64   `json:"requests"`
	Successes  int64   `json:"successes"`
	TokensUsed int64   `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

type Store interface {
	LogUsage(ctx context.Context, log *UsageLog) error
	GetUsageByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageLog, error)
	GetTotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	SummarizeByBackend(ctx context.Context, tenantID string, from, to time.Time) ([]BackendUsage, error)
}
