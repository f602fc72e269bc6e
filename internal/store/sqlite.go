package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/angeloszaimis/poolgate/internal/account"
)

// SQLite persists accounts in a single table. The database is opened with
// one connection, so each Update transaction runs alone and per-account
// read-modify-write cycles cannot interleave.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the account database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("db path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Get(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM accounts WHERE id = ?`, id)
	return scanAccount(row, id)
}

func (s *SQLite) List(ctx context.Context) ([]account.Account, error) {
	return s.query(ctx, `SELECT data FROM accounts ORDER BY id`)
}

func (s *SQLite) ActiveAccounts(ctx context.Context, now time.Time) ([]account.Account, error) {
	candidates, err := s.query(ctx, `SELECT data FROM accounts WHERE status != ? ORDER BY id`,
		account.StatusDisabled.String())
	if err != nil {
		return nil, err
	}

	active := candidates[:0]
	for _, a := range candidates {
		if selectable(a, now) {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *SQLite) Update(ctx context.Context, id string, mutate Mutator) (account.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanAccount(tx.QueryRowContext(ctx, `SELECT data FROM accounts WHERE id = ?`, id), id)
	if err != nil {
		return account.Account{}, err
	}

	next := current
	if err := mutate(&next); err != nil {
		return current, err
	}
	next.ID = current.ID

	if err := s.write(ctx, tx, next); err != nil {
		return current, err
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("failed to commit account update: %w", err)
	}

	return next, nil
}

func (s *SQLite) MarkDisabled(ctx context.Context, id string, reason string) (account.Account, error) {
	return s.Update(ctx, id, disable(reason))
}

func (s *SQLite) Put(ctx context.Context, acc account.Account) error {
	if err := validate(acc); err != nil {
		return err
	}
	return s.write(ctx, s.db, acc)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) write(ctx context.Context, ex execer, acc account.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO accounts (id, status, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, acc.ID, acc.Status.String(), string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		var acc account.Account
		if err := json.Unmarshal([]byte(data), &acc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func scanAccount(row *sql.Row, id string) (account.Account, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, notFound(id)
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("failed to load account: %w", err)
	}

	var acc account.Account
	if err := json.Unmarshal([]byte(data), &acc); err != nil {
		return account.Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return acc, nil
}
