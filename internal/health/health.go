// Package health answers whether a backend is currently reachable, caching
// probe results for a short TTL.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
)

const (
	DefaultTTL         = 5 * time.Minute
	RemoteProbeTimeout = 10 * time.Second
	LocalProbeTimeout  = 5 * time.Second

	errMissingAPIKey = "api key not configured"
)

// Status is the cached outcome of the last probe of one backend.
type Status struct {
	BackendID string    `json:"backend_id"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (s *Status) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (s *Status) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// Prober performs the provider-specific liveness call.
type Prober interface {
	Probe(ctx context.Context, b *backend.Config) error
}

type ProberFunc func(ctx context.Context, b *backend.Config) error

func (f ProberFunc) Probe(ctx context.Context, b *backend.Config) error { return f(ctx, b) }

// Checker owns all health statuses. It is safe for concurrent use.
type Checker struct {
	prober Prober
	store  Store
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
	group  singleflight.Group
}

type Option func(*Checker)

func WithTTL(ttl time.Duration) Option {
	return func(c *Checker) { c.ttl = ttl }
}

func WithStore(s Store) Option {
	return func(c *Checker) { c.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Checker) { c.log = log }
}

func NewChecker(prober Prober, opts ...Option) *Checker {
	c := &Checker{
		prober: prober,
		ttl:    DefaultTTL,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	return c
}

func (c *Checker) TTL() time.Duration { return c.ttl }

func (c *Checker) fresh(s *Status) bool {
	return s != nil && c.now().Sub(s.CheckedAt) <= c.ttl
}

func (c *Checker) cached(ctx context.Context, id string) *Status {
	s, err := c.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn().Err(err).Str("backend", id).Msg("health cache read failed")
		return nil
	}
	return s
}

// IsHealthy reports whether b is reachable. A cached result younger than
// the TTL is trusted; anything older triggers exactly one probe, shared by
// concurrent callers. Probe failures degrade to false.
func (c *Checker) IsHealthy(ctx context.Context, b *backend.Config) bool {
	if s := c.cached(ctx, b.ID); c.fresh(s) {
		return s.Available
	}

	v, _, _ := c.group.Do(b.ID, func() (interface{}, error) {
		// another flight may have finished between our read and this call
		if s := c.cached(ctx, b.ID); c.fresh(s) {
			return s.Available, nil
		}
		s := c.probe(ctx, b)
		if err := c.store.Set(ctx, s, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("backend", b.ID).Msg("health cache write failed")
		}
		return s.Available, nil
	})
	return v.(bool)
}

func (c *Checker) probe(ctx context.Context, b *backend.Config) *Status {
	s := &Status{BackendID: b.ID}
	if !b.HasCredentials() {
		s.Error = errMissingAPIKey
		s.CheckedAt = c.now()
		return s
	}

	timeout := RemoteProbeTimeout
	if b.IsLocal() {
		timeout = LocalProbeTimeout
	}
	// the result is shared with other callers, so one caller's
	// cancellation must not turn into a cached failure
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := c.prober.Probe(pctx, b)
	s.CheckedAt = c.now()
	if err != nil {
		s.Error = err.Error()
		c.log.Debug().Err(err).Str("backend", b.ID).Msg("health probe failed")
		return s
	}
	s.Available = true
	c.log.Debug().Str("backend", b.ID).Msg("health probe ok")
	return s
}

// Invalidate drops the cached status so the next IsHealthy call probes.
func (c *Checker) Invalidate(ctx context.Context, backendID string) {
	if err := c.store.Delete(ctx, backendID); err != nil {
		c.log.Warn().Err(err).Str("backend", backendID).Msg("health cache delete failed")
	}
}

// Snapshot returns cached statuses for the given backends without
// probing. Backends never probed are omitted.
func (c *Checker) Snapshot(ctx context.Context, backends []*backend.Config) map[string]Status {
	out := make(map[string]Status, len(backends))
	for _, b := range backends {
		if s := c.cached(ctx, b.ID); s != nil {
			out[b.ID] = *s
		}
	}
	return out
}
