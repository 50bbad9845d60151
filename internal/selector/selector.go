// Package selector ranks the backends able to serve a request.
package selector

import (
	"context"
	"sort"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/ledger"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

const (
	weightReliability = 0.3
	weightQuality     = 0.3
	weightSpeed       = 0.2
	preferenceStep    = 0.1
	weightSuccessRate = 0.2
	latencyPenalty    = 0.01
	priorityBoost     = 0.2
	costPenalty       = 0.01
)

// Availability reports whether a backend may be considered right now.
type Availability interface {
	IsHealthy(ctx context.Context, b *backend.Config) bool
}

type AvailabilityFunc func(ctx context.Context, b *backend.Config) bool

func (f AvailabilityFunc) IsHealthy(ctx context.Context, b *backend.Config) bool { return f(ctx, b) }

// History is the read side of the performance ledger.
type History interface {
	StatsFor(backendID string, t task.Type) ledger.Stats
}

// Breakdown shows how a score was assembled.
type Breakdown struct {
	Static     float64 `json:"static"`
	Preference float64 `json:"preference"`
	History    float64 `json:"history"`
	Priority   float64 `json:"priority"`
	Cost       float64 `json:"cost"`
	Total      float64 `json:"total"`
}

type Candidate struct {
	Backend *backend.Config `json:"backend"`
	Score   Breakdown       `json:"score"`
}

type Selector struct {
	registry     *backend.Registry
	availability Availability
	history      History
}

func New(registry *backend.Registry, availability Availability, history History) *Selector {
	return &Selector{
		registry:     registry,
		availability: availability,
		history:      history,
	}
}

// Select returns the best available backend for the request, or false
// when no backend supports the task type and is available.
func (s *Selector) Select(ctx context.Context, req *task.Request) (*backend.Config, bool) {
	ranked := s.Rank(ctx, req)
	if len(ranked) == 0 {
		return nil, false
	}
	return ranked[0].Backend, true
}

// Rank scores every available candidate, best first. Equal scores keep
// registration order. It never writes to the ledger.
func (s *Selector) Rank(ctx context.Context, req *task.Request) []Candidate {
	prefs := s.registry.Preferences(req.TaskType)

	var out []Candidate
	for _, b := range s.registry.ForTask(req.TaskType) {
		if !s.availability.IsHealthy(ctx, b) {
			continue
		}
		out = append(out, Candidate{
			Backend: b,
			Score:   Score(b, prefs, s.history.StatsFor(b.ID, req.TaskType), req.Priority),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Total > out[j].Score.Total
	})
	return out
}

// Score computes the weighted selection score for one backend.
func Score(b *backend.Config, prefs []string, stats ledger.Stats, priority task.Priority) Breakdown {
	var bd Breakdown
	bd.Static = weightReliability*b.Reliability + weightQuality*b.Quality + weightSpeed*b.Speed

	if pos := preferencePosition(b, prefs); pos >= 0 {
		bd.Preference = float64(len(prefs)-pos) * preferenceStep
	}

	if stats.TotalRequests > 0 {
		bd.History = weightSuccessRate*stats.SuccessRate - latencyPenalty*stats.AvgLatency
	}

	switch priority {
	case task.PriorityHigh:
		bd.Priority = priorityBoost * b.Quality
	case task.PriorityLow:
		bd.Priority = priorityBoost * b.Speed
	}

	bd.Cost = costPenalty * b.CostPer1K

	bd.Total = bd.Static + bd.Preference + bd.History + bd.Priority - bd.Cost
	if bd.Total < 0 {
		bd.Total = 0
	}
	return bd
}

// preferencePosition matches an entry by backend ID first, then provider.
func preferencePosition(b *backend.Config, prefs []string) int {
	for i, p := range prefs {
		if p == b.ID {
			return i
		}
	}
	for i, p := range prefs {
		if p == string(b.Provider) {
			return i
		}
	}
	return -1
}
