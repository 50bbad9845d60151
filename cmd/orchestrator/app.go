package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/model-orchestrator/config"
	"github.com/vnmchuo/model-orchestrator/internal/auth"
	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/billing"
	"github.com/vnmchuo/model-orchestrator/internal/health"
	"github.com/vnmchuo/model-orchestrator/internal/ledger"
	"github.com/vnmchuo/model-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
	"github.com/vnmchuo/model-orchestrator/internal/provider/claude"
	"github.com/vnmchuo/model-orchestrator/internal/provider/gemini"
	"github.com/vnmchuo/model-orchestrator/internal/provider/local"
	"github.com/vnmchuo/model-orchestrator/internal/provider/ollama"
	"github.com/vnmchuo/model-orchestrator/internal/provider/openai"
)

// app holds everything a command needs. Postgres and Redis are optional;
// the matching fields stay nil when they are not configured.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	tracer trace.Tracer

	pool *pgxpool.Pool
	rdb  *redis.Client

	registry  *backend.Registry
	orch      *orchestrator.Orchestrator
	billing   *billing.PostgresStore
	authStore *auth.PostgresStore

	closers []func()
}

func newAdapters() provider.Table {
	client := &http.Client{}
	compat := openai.New(client)
	return provider.Table{
		backend.ProviderOpenAI:     compat,
		backend.ProviderGroq:       compat,
		backend.ProviderOpenRouter: compat,
		backend.ProviderDeepSeek:   compat,
		backend.ProviderAnthropic:  claude.New(client),
		backend.ProviderGemini:     gemini.New(client),
		backend.ProviderOllama:     ollama.New(client),
		backend.ProviderLocal:      local.New(),
	}
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, tracer trace.Tracer) (*app, error) {
	a := &app{cfg: cfg, log: log, tracer: tracer}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("load backends: %w", err)
	}
	a.registry = reg

	var ledgerStore ledger.Store
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.pool = pool
		log.Info().Msg("PostgreSQL connected")

		ls := ledger.NewPostgresStore(pool)
		a.billing = billing.NewPostgresStore(pool)
		a.authStore = auth.NewPostgresStore(pool)
		for name, migrate := range map[string]func(context.Context) error{
			"ledger":  ls.Migrate,
			"billing": a.billing.Migrate,
			"auth":    a.authStore.Migrate,
		} {
			if err := migrate(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate %s: %w", name, err)
			}
		}
		ledgerStore = ls
	} else if cfg.LedgerSQLitePath != "" {
		ls, err := ledger.OpenSQLite(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { ls.Close() })
		ledgerStore = ls
	}

	healthOpts := []health.Option{health.WithTTL(cfg.HealthTTL), health.WithLogger(log)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.rdb = rdb
		healthOpts = append(healthOpts, health.WithStore(health.NewRedisStore(rdb)))
		log.Info().Msg("Redis connected")
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(log)}
	if ledgerStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(ledgerStore))
	}
	l := ledger.New(ledgerOpts...)
	if n, err := l.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("ledger restore failed, starting empty")
	} else if n > 0 {
		log.Info().Int("entries", n).Msg("ledger restored")
	}

	adapters := newAdapters()
	opts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithTracer(tracer),
	}
	if a.billing != nil {
		opts = append(opts, orchestrator.WithUsageLogger(a.billing))
	}
	a.orch = orchestrator.New(reg, l, health.NewChecker(adapters, healthOpts...), adapters, opts...)

	return a, nil
}

// Close drains pending writes before dropping connections.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
		a.orch = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) authMiddleware() auth.Middleware {
	if a.authStore == nil {
		return nil
	}
	if a.rdb == nil {
		return auth.NewMiddleware(a.authStore, nil, a.log)
	}
	return auth.NewMiddleware(a.authStore, a.rdb, a.log)
}

const shutdownTimeout = 10 * time.Second
