package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultPostgresTable is created by the pg package migrations.
const DefaultPostgresTable = "tenant_state"

// PgxConn is the subset of *pgxpool.Pool used by the Postgres store.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresStore struct {
	db        PgxConn
	getSQL    string
	insertSQL string
	updateSQL string
	deleteSQL string
}

// NewPostgresStore returns a Store backed by a table with (key, value jsonb, version) columns.
// An empty table name selects DefaultPostgresTable.
func NewPostgresStore(db PgxConn, table string) Store {
	if db == nil {
		panic("kv: postgres connection is required")
	}
	if table == "" {
		table = DefaultPostgresTable
	}
	ident := pgx.Identifier{table}.Sanitize()

	return &postgresStore{
		db:        db,
		getSQL:    fmt.Sprintf(`SELECT value, version FROM %s WHERE key = $1`, ident),
		insertSQL: fmt.Sprintf(`INSERT INTO %s (key, value, version, updated_at) VALUES ($1, $2, 1, now()) ON CONFLICT (key) DO NOTHING`, ident),
		updateSQL: fmt.Sprintf(`UPDATE %s SET value = $2, version = version + 1, updated_at = now() WHERE key = $1 AND version = $3`, ident),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, ident),
	}
}

func (s *postgresStore) Get(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}

	var e Entry
	if err := s.db.QueryRow(ctx, s.getSQL, key).Scan(&e.Value, &e.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("kv: postgres get %s: %w", key, err)
	}
	return e, nil
}

func (s *postgresStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = s.db.Exec(ctx, s.insertSQL, key, value)
	} else {
		tag, err = s.db.Exec(ctx, s.updateSQL, key, value, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("kv: postgres put %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := s.db.Exec(ctx, s.deleteSQL, key); err != nil {
		return fmt.Errorf("kv: postgres delete %s: %w", key, err)
	}
	return nil
}
