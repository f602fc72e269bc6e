package requestlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite is a durable request log.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("db path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS request_log (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		account_id TEXT,
		model TEXT,
		outcome TEXT NOT NULL,
		status_code INTEGER,
		latency_ms INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_request_log_timestamp ON request_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_request_log_request_id ON request_log(request_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, e Entry) error {
	e = prepare(e)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (id, request_id, attempt, timestamp, account_id, model, outcome, status_code, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Attempt, e.Timestamp.UnixNano(), e.AccountID, e.Model,
		string(e.Outcome), e.StatusCode, e.Latency.Milliseconds(), e.Error)
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, attempt, timestamp, account_id, model, outcome, status_code, latency_ms, error
		FROM request_log ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			ts        int64
			latencyMs int64
			outcome   string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Attempt, &ts, &e.AccountID, &e.Model,
			&outcome, &e.StatusCode, &latencyMs, &e.Error); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts)
		e.Outcome = Outcome(outcome)
		e.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
