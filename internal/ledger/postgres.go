package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists namespaced keys in the kv table created by
// cmd/migrator.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// View runs fn against the pool without a transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(Reader) error) error {
	return fn(pgReader{q: s.db})
}

// Update runs fn inside a single database transaction.
func (s *PostgresStore) Update(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(pgWriter{pgReader{q: tx}, tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgReader struct {
	q querier
}

func (r pgReader) Get(ctx context.Context, namespace string, key []byte) ([]byte, error) {
	const query = `SELECT value FROM kv WHERE namespace = $1 AND key = $2`
	var value []byte
	if err := r.q.QueryRow(ctx, query, namespace, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s key: %w", namespace, err)
	}
	return value, nil
}

func (r pgReader) Has(ctx context.Context, namespace string, key []byte) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM kv WHERE namespace = $1 AND key = $2)`
	var exists bool
	if err := r.q.QueryRow(ctx, query, namespace, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("has %s key: %w", namespace, err)
	}
	return exists, nil
}

func (r pgReader) Scan(ctx context.Context, namespace string, fn func(key, value []byte) error) error {
	rows, err := r.q.Query(ctx, `SELECT key, value FROM kv WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("scan %s: %w", namespace, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan %s row: %w", namespace, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

type pgWriter struct {
	pgReader
	tx pgx.Tx
}

func (w pgWriter) Set(ctx context.Context, namespace string, key, value []byte) error {
	_, err := w.tx.Exec(ctx, `INSERT INTO kv (namespace, key, value) VALUES ($1, $2, $3)
        ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("set %s key: %w", namespace, err)
	}
	return nil
}
