// Package ledger keeps per-(backend, task type) success and latency
// history that feeds backend selection.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

type Key struct {
	BackendID string    `json:"backend"`
	TaskType  task.Type `json:"task_type"`
}

// Totals are the raw cumulative counters for one key. Rates are derived
// from them on read.
type Totals struct {
	Requests     int64         `json:"requests"`
	Successes    int64         `json:"successes"`
	TotalLatency time.Duration `json:"total_latency"`
}

// Stats is the derived view used by the selector.
type Stats struct {
	SuccessRate   float64 `json:"success_rate"`
	AvgLatency    float64 `json:"avg_latency_seconds"`
	TotalRequests int64   `json:"total_requests"`
}

func (t Totals) Stats() Stats {
	if t.Requests == 0 {
		return Stats{}
	}
	return Stats{
		SuccessRate:   float64(t.Successes) / float64(t.Requests),
		AvgLatency:    t.TotalLatency.Seconds() / float64(t.Requests),
		TotalRequests: t.Requests,
	}
}

type Entry struct {
	Key
	Totals
}

// Store persists ledger deltas so history survives restarts.
type Store interface {
	Add(ctx context.Context, key Key, delta Totals) error
	LoadAll(ctx context.Context) ([]Entry, error)
}

type record struct {
	mu     sync.Mutex
	totals Totals
}

// Ledger is safe for concurrent use. Each key has its own lock; the map
// lock is only held to find or create a record.
type Ledger struct {
	mu      sync.RWMutex
	records map[Key]*record

	store   Store
	log     zerolog.Logger
	pending sync.WaitGroup
}

type Option func(*Ledger)

// WithStore persists every recorded outcome asynchronously.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[Key]*record),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) get(k Key, create bool) *record {
	l.mu.RLock()
	r, ok := l.records[k]
	l.mu.RUnlock()
	if ok || !create {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok = l.records[k]; !ok {
		r = &record{}
		l.records[k] = r
	}
	return r
}

// Record adds one invocation outcome.
func (l *Ledger) Record(backendID string, t task.Type, latency time.Duration, success bool) {
	k := Key{BackendID: backendID, TaskType: t}
	delta := Totals{Requests: 1, TotalLatency: latency}
	if success {
		delta.Successes = 1
	}

	r := l.get(k, true)
	r.mu.Lock()
	r.totals.Requests += delta.Requests
	r.totals.Successes += delta.Successes
	r.totals.TotalLatency += delta.TotalLatency
	r.mu.Unlock()

	if l.store == nil {
		return
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.Add(ctx, k, delta); err != nil {
			l.log.Warn().Err(err).Str("backend", backendID).Str("task", string(t)).Msg("ledger persist failed")
		}
	}()
}

// StatsFor returns zeros when the pair has no history.
func (l *Ledger) StatsFor(backendID string, t task.Type) Stats {
	return l.TotalsFor(backendID, t).Stats()
}

func (l *Ledger) TotalsFor(backendID string, t task.Type) Totals {
	r := l.get(Key{BackendID: backendID, TaskType: t}, false)
	if r == nil {
		return Totals{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}

// Snapshot returns every entry ordered by backend, then task type.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	keys := make([]Key, 0, len(l.records))
	recs := make([]*record, 0, len(l.records))
	for k, r := range l.records {
		keys = append(keys, k)
		recs = append(recs, r)
	}
	l.mu.RUnlock()

	out := make([]Entry, len(keys))
	for i, r := range recs {
		r.mu.Lock()
		out[i] = Entry{Key: keys[i], Totals: r.totals}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BackendID != out[j].BackendID {
			return out[i].BackendID < out[j].BackendID
		}
		return out[i].TaskType < out[j].TaskType
	})
	return out
}

// Restore merges persisted totals into memory. Call once at startup,
// before serving traffic.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	entries, err := l.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		r := l.get(e.Key, true)
		r.mu.Lock()
		r.totals.Requests += e.Requests
		r.totals.Successes += e.Successes
		r.totals.TotalLatency += e.TotalLatency
		r.mu.Unlock()
	}
	return len(entries), nil
}

// Flush waits for in-flight persistence writes.
func (l *Ledger) Flush() {
	l.pending.Wait()
}
