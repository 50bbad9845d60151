package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/ledger"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

var allUp = AvailabilityFunc(func(context.Context, *backend.Config) bool { return true })

func fastCheap() *backend.Config {
	return &backend.Config{
		ID: "fast-cheap", Provider: backend.ProviderGroq, Model: "llama3-8b", Timeout: time.Second,
		Quality: 0.5, Speed: 0.9, Reliability: 0.9, CostPer1K: 0,
		Tasks: []task.Type{task.CodeGeneration},
	}
}

func slowGood() *backend.Config {
	return &backend.Config{
		ID: "slow-good", Provider: backend.ProviderAnthropic, Model: "claude", Timeout: time.Second,
		Quality: 0.95, Speed: 0.4, Reliability: 0.95, CostPer1K: 0.03,
		Tasks: []task.Type{task.CodeGeneration},
	}
}

func scenario(t *testing.T) (*backend.Registry, *ledger.Ledger, *Selector) {
	t.Helper()
	reg, err := backend.NewRegistry(
		[]*backend.Config{fastCheap(), slowGood()},
		map[task.Type][]string{task.CodeGeneration: {"slow-good", "fast-cheap"}},
		nil,
	)
	require.NoError(t, err)
	l := ledger.New()
	return reg, l, New(reg, allUp, l)
}

func codeRequest(p task.Priority) *task.Request {
	return &task.Request{Prompt: "write a REST API", TaskType: task.CodeGeneration, Priority: p}
}

func inject(l *ledger.Ledger, id string, n, successes int, latency time.Duration) {
	for i := 0; i < n; i++ {
		l.Record(id, task.CodeGeneration, latency, i < successes)
	}
}

func TestSelect_NoHistoryPrefersSlowGood(t *testing.T) {
	_, _, sel := scenario(t)

	ranked := sel.Rank(context.Background(), codeRequest(task.PriorityNormal))
	require.Len(t, ranked, 2)
	assert.Equal(t, "slow-good", ranked[0].Backend.ID)
	assert.InDelta(t, 0.8497, ranked[0].Score.Total, 1e-9)
	assert.InDelta(t, 0.70, ranked[1].Score.Total, 1e-9)
}

func TestSelect_HistoryCrossover(t *testing.T) {
	_, l, sel := scenario(t)
	ctx := context.Background()

	// equal latencies: the history gap (0.2 - 0.06 = 0.14) is short of the
	// static/preference gap (0.1497), so slow-good keeps winning by 0.0097
	inject(l, "fast-cheap", 20, 20, time.Second)
	inject(l, "slow-good", 20, 6, time.Second)
	ranked := sel.Rank(ctx, codeRequest(task.PriorityNormal))
	assert.Equal(t, "slow-good", ranked[0].Backend.ID)
	assert.InDelta(t, 0.8997, ranked[0].Score.Total, 1e-9)
	assert.InDelta(t, 0.89, ranked[1].Score.Total, 1e-9)

	// a latency gap above 0.97s tips it
	_, l, sel = scenario(t)
	inject(l, "fast-cheap", 20, 20, 500*time.Millisecond)
	inject(l, "slow-good", 20, 6, 2500*time.Millisecond)
	ranked = sel.Rank(ctx, codeRequest(task.PriorityNormal))
	assert.Equal(t, "fast-cheap", ranked[0].Backend.ID)
	assert.InDelta(t, 0.895, ranked[0].Score.Total, 1e-9)
	assert.InDelta(t, 0.8847, ranked[1].Score.Total, 1e-9)
}

func TestSelect_Deterministic(t *testing.T) {
	_, l, sel := scenario(t)
	inject(l, "fast-cheap", 3, 2, 300*time.Millisecond)
	req := codeRequest(task.PriorityLow)

	first, ok := sel.Select(context.Background(), req)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, _ := sel.Select(context.Background(), req)
		assert.Same(t, first, again)
	}
	assert.Equal(t, int64(3), l.StatsFor("fast-cheap", task.CodeGeneration).TotalRequests, "select must not touch the ledger")
}

func TestScore_MonotonicInSuccessRate(t *testing.T) {
	b := slowGood()
	prefs := []string{"slow-good"}
	prev := -1.0
	for sr := 0.0; sr <= 1.0; sr += 0.05 {
		s := Score(b, prefs, ledger.Stats{SuccessRate: sr, AvgLatency: 1.2, TotalRequests: 10}, task.PriorityNormal)
		assert.GreaterOrEqual(t, s.Total, prev)
		prev = s.Total
	}
}

func TestScore_PriorityAndCost(t *testing.T) {
	b := slowGood()
	normal := Score(b, nil, ledger.Stats{}, task.PriorityNormal)
	high := Score(b, nil, ledger.Stats{}, task.PriorityHigh)
	low := Score(b, nil, ledger.Stats{}, task.PriorityLow)

	assert.InDelta(t, 0.2*b.Quality, high.Total-normal.Total, 1e-12)
	assert.InDelta(t, 0.2*b.Speed, low.Total-normal.Total, 1e-12)
	assert.InDelta(t, 0.0003, normal.Cost, 1e-12)
	assert.Zero(t, normal.Preference)
	assert.Zero(t, normal.History)
}

func TestScore_FloorAtZero(t *testing.T) {
	b := &backend.Config{ID: "pricey", CostPer1K: 500}
	s := Score(b, nil, ledger.Stats{SuccessRate: 0, AvgLatency: 100, TotalRequests: 1}, task.PriorityNormal)
	assert.Equal(t, 0.0, s.Total)
}

func TestScore_PreferenceByProvider(t *testing.T) {
	b := fastCheap()
	s := Score(b, []string{"openai", "groq", "anthropic"}, ledger.Stats{}, task.PriorityNormal)
	assert.InDelta(t, 0.2, s.Preference, 1e-12)
}

func TestSelect_TiesKeepRegistrationOrder(t *testing.T) {
	a := fastCheap()
	a.ID = "first"
	b := fastCheap()
	b.ID = "second"
	reg, err := backend.NewRegistry([]*backend.Config{a, b}, nil, nil)
	require.NoError(t, err)

	got, ok := New(reg, allUp, ledger.New()).Select(context.Background(), codeRequest(task.PriorityNormal))
	require.True(t, ok)
	assert.Equal(t, "first", got.ID)
}

func TestSelect_SkipsUnavailableAndUnsupported(t *testing.T) {
	reg, l, _ := scenario(t)
	onlyFast := AvailabilityFunc(func(_ context.Context, b *backend.Config) bool { return b.ID == "fast-cheap" })
	sel := New(reg, onlyFast, l)

	got, ok := sel.Select(context.Background(), codeRequest(task.PriorityNormal))
	require.True(t, ok)
	assert.Equal(t, "fast-cheap", got.ID)

	_, ok = sel.Select(context.Background(), &task.Request{Prompt: "x", TaskType: task.Research})
	assert.False(t, ok)

	none := AvailabilityFunc(func(context.Context, *backend.Config) bool { return false })
	_, ok = New(reg, none, l).Select(context.Background(), codeRequest(task.PriorityNormal))
	assert.False(t, ok)
}
