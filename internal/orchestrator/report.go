package orchestrator

import (
	"context"
	"time"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

type PerformanceEntry struct {
	BackendID     string    `json:"backend_id"`
	TaskType      task.Type `json:"task_type"`
	TotalRequests int64     `json:"total_requests"`
	SuccessRate   float64   `json:"success_rate"`
	AvgLatency    float64   `json:"avg_latency_seconds"`
}

type BackendStatus struct {
	ID        string           `json:"id"`
	Provider  backend.Provider `json:"provider"`
	Model     string           `json:"model"`
	Healthy   bool             `json:"healthy"`
	Checked   bool             `json:"checked"`
	CheckedAt time.Time        `json:"checked_at,omitempty"`
	Error     string           `json:"error,omitempty"`
	Breaker   string           `json:"breaker"`
}

// Report is a read-only snapshot for dashboards.
type Report struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	TotalBackends     int                `json:"total_backends"`
	AvailableBackends int                `json:"available_backends"`
	Backends          []BackendStatus    `json:"backends"`
	Performance       []PerformanceEntry `json:"performance"`
}

// Report reads cached health and ledger state. It never probes, so a
// backend that has not been checked yet counts as unavailable.
func (o *Orchestrator) Report(ctx context.Context) Report {
	backends := o.registry.List()
	statuses := o.health.Snapshot(ctx, backends)

	r := Report{
		GeneratedAt:   time.Now().UTC(),
		TotalBackends: len(backends),
		Backends:      make([]BackendStatus, 0, len(backends)),
	}
	for _, b := range backends {
		bs := BackendStatus{
			ID:       b.ID,
			Provider: b.Provider,
			Model:    b.Model,
			Breaker:  o.breakers[b.ID].State().String(),
		}
		if s, ok := statuses[b.ID]; ok {
			bs.Checked = true
			bs.Healthy = s.Available
			bs.CheckedAt = s.CheckedAt
			bs.Error = s.Error
		}
		if bs.Healthy && bs.Breaker != "open" {
			r.AvailableBackends++
		}
		r.Backends = append(r.Backends, bs)
	}

	for _, e := range o.ledger.Snapshot() {
		s := e.Stats()
		r.Performance = append(r.Performance, PerformanceEntry{
			BackendID:     e.BackendID,
			TaskType:      e.TaskType,
			TotalRequests: s.TotalRequests,
			SuccessRate:   s.SuccessRate,
			AvgLatency:    s.AvgLatency,
		})
	}
	return r
}

// Refresh probes every backend whose cached status is stale.
func (o *Orchestrator) Refresh(ctx context.Context) {
	for _, b := range o.registry.List() {
		o.health.IsHealthy(ctx, b)
	}
}
