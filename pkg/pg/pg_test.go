package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tierkit/pkg/pg"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	ok := pg.Healthcheck(pingerFunc(func(context.Context) error { return nil }))
	assert.NoError(t, ok(context.Background()))

	down := errors.New("connection refused")
	bad := pg.Healthcheck(pingerFunc(func(context.Context) error { return down }))
	err := bad(context.Background())
	assert.ErrorIs(t, err, pg.ErrHealthcheckFailed)
	assert.ErrorIs(t, err, down)
}

func TestConnect_EmptyConnectionString(t *testing.T) {
	t.Parallel()
	_, err := pg.Connect(context.Background(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)
}

func TestConnect_InvalidConnectionString(t *testing.T) {
	t.Parallel()
	_, err := pg.Connect(context.Background(), pg.Config{ConnectionString: "postgres://%zz"})
	assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
}

func TestIsSerializationFailure(t *testing.T) {
	t.Parallel()
	assert.True(t, pg.IsSerializationFailure(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"})))
	assert.False(t, pg.IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, pg.IsSerializationFailure(nil))
}
