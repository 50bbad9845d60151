package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createPerformanceTable = `
	CREATE TABLE IF NOT EXISTS backend_performance (
		backend_id       TEXT   NOT NULL,
		task_type        TEXT   NOT NULL,
		requests         BIGINT NOT NULL DEFAULT 0,
		successes        BIGINT NOT NULL DEFAULT 0,
		total_latency_us BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (backend_id, task_type)
	)
`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createPerformanceTable); err != nil {
		return fmt.Errorf("failed to create backend_performance: %w", err)
	}
	return nil
}

// Add increments the stored counters, so concurrent writers commute.
func (s *PostgresStore) Add(ctx context.Context, key Key, delta Totals) error {
	query := `
		INSERT INTO backend_performance (backend_id, task_type, requests, successes, total_latency_us)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (backend_id, task_type) DO UPDATE SET
			requests = backend_performance.requests + EXCLUDED.requests,
			successes = backend_performance.successes + EXCLUDED.successes,
			total_latency_us = backend_performance.total_latency_us + EXCLUDED.total_latency_us
	`
	_, err := s.db.Exec(ctx, query,
		key.BackendID, string(key.TaskType), delta.Requests, delta.Successes, delta.TotalLatency.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to add performance record: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT backend_id, task_type, requests, successes, total_latency_us
		FROM backend_performance
		ORDER BY backend_id, task_type
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			taskType  string
			latencyUs int64
		)
		if err := rows.Scan(&e.BackendID, &taskType, &e.Requests, &e.Successes, &latencyUs); err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		e.TaskType = task.Type(taskType)
		e.TotalLatency = time.Duration(latencyUs) * time.Microsecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance records: %w", err)
	}
	return entries, nil
}
