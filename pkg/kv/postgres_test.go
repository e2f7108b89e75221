package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

type mockPgx struct {
	mock.Mock
}

func (m *mockPgx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	a := m.Called(sql, args)
	return a.Get(0).(pgconn.CommandTag), a.Error(1)
}

func (m *mockPgx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	a := m.Called(sql, args)
	return a.Get(0).(pgx.Row)
}

type fakeRow struct {
	value   []byte
	version int64
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.value
	*dest[1].(*int64) = r.version
	return nil
}

func TestPostgresStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("get maps no rows to not found", func(t *testing.T) {
		t.Parallel()
		db := &mockPgx{}
		db.On("QueryRow", mock.Anything, mock.Anything).Return(fakeRow{err: pgx.ErrNoRows})

		_, err := kv.NewPostgresStore(db, "").Get(ctx, "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("get returns entry", func(t *testing.T) {
		t.Parallel()
		db := &mockPgx{}
		db.On("QueryRow", mock.Anything, mock.Anything).Return(fakeRow{value: []byte(`{}`), version: 4})

		e, err := kv.NewPostgresStore(db, "").Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(4), e.Version)
	})

	t.Run("insert conflict", func(t *testing.T) {
		t.Parallel()
		db := &mockPgx{}
		db.On("Exec", mock.MatchedBy(func(sql string) bool { return len(sql) > 6 && sql[:6] == "INSERT" }), mock.Anything).
			Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

		_, err := kv.NewPostgresStore(db, "").Put(ctx, "k", []byte(`{}`), 0)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)
	})

	t.Run("update bumps version", func(t *testing.T) {
		t.Parallel()
		db := &mockPgx{}
		db.On("Exec", mock.MatchedBy(func(sql string) bool { return len(sql) > 6 && sql[:6] == "UPDATE" }), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		v, err := kv.NewPostgresStore(db, "").Put(ctx, "k", []byte(`{}`), 3)
		require.NoError(t, err)
		assert.Equal(t, int64(4), v)
	})

	t.Run("update on stale version", func(t *testing.T) {
		t.Parallel()
		db := &mockPgx{}
		db.On("Exec", mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		_, err := kv.NewPostgresStore(db, "").Put(ctx, "k", []byte(`{}`), 3)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		db := &mockPgx{}
		db.On("Exec", mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, boom)

		_, err := kv.NewPostgresStore(db, "").Put(ctx, "k", []byte(`{}`), 1)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, kv.ErrVersionConflict)
	})
}
