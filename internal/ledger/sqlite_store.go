package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

// SQLiteStore keeps ledger totals in a local database file for
// single-node deployments without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" works
// for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(createPerformanceTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create backend_performance: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, key Key, delta Totals) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_performance (backend_id, task_type, requests, successes, total_latency_us)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (backend_id, task_type) DO UPDATE SET
			requests = requests + excluded.requests,
			successes = successes + excluded.successes,
			total_latency_us = total_latency_us + excluded.total_latency_us
	`, key.BackendID, string(key.TaskType), delta.Requests, delta.Successes, delta.TotalLatency.Microseconds())
	if err != nil {
		return fmt.Errorf("add performance record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend_id, task_type, requests, successes, total_latency_us
		FROM backend_performance
		ORDER BY backend_id, task_type
	`)
	if err != nil {
		return nil, fmt.Errorf("query performance records: %w", err)
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
			return nil, fmt.Errorf("scan performance record: %w", err)
		}
		e.TaskType = task.Type(taskType)
		e.TotalLatency = time.Duration(latencyUs) * time.Microsecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
