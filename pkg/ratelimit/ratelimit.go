// Package ratelimit enforces a tokens-per-minute budget per tenant on top of
// github.com/vnmchuo/ratelimiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// DefaultEstimate is charged when a request carries no max_tokens override.
const DefaultEstimate = 1000

type Limiter struct {
	rdb        *redis.Client
	defaultTPM int64

	mu     sync.Mutex
	stores map[int64]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	return &Limiter{
		rdb:        rdb,
		defaultTPM: defaultTPM,
		stores:     make(map[int64]extratelimit.Limiter),
	}
}

// NewTestLimiter routes every limit through store.
func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{stores: map[int64]extratelimit.Limiter{0: store}}
}

// store returns the backing limiter for a tokens-per-minute budget. Keys
// with a custom budget get their own store since the window limit is
// fixed per store.
func (l *Limiter) store(tpm int64) extratelimit.Limiter {
	if tpm <= 0 {
		tpm = l.defaultTPM
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rdb == nil {
		return l.stores[0]
	}
	s, ok := l.stores[tpm]
	if !ok {
		s = extratelimit.NewRedisStore(l.rdb,
			extratelimit.WithLimit(int(tpm)),
			extratelimit.WithWindow(time.Minute),
		)
		l.stores[tpm] = s
	}
	return s
}

func key(tenantID string) string {
	return fmt.Sprintf("ratelimit:tenant:%s", tenantID)
}

// Allow charges tokens against the tenant's budget. tpm <= 0 selects the
// server default.
func (l *Limiter) Allow(ctx context.Context, tenantID string, tpm int64, tokens int) (bool, error) {
	res, err := l.store(tpm).AllowN(ctx, key(tenantID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, tenantID string, tpm int64) (*extratelimit.Result, error) {
	return l.store(tpm).Status(ctx, key(tenantID))
}

// Estimate approximates the token cost of a request before it runs: about
// four characters per prompt token plus the completion budget.
func Estimate(prompt string, maxTokens int) int {
	if maxTokens <= 0 {
		maxTokens = DefaultEstimate
	}
	return len(prompt)/4 + maxTokens
}
