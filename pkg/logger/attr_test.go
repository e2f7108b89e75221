package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	assert.Equal(t, "tenant_id", logger.TenantID("shop").Key)
	assert.Equal(t, "reservation_id", logger.ReservationID("r1").Key)
	assert.Equal(t, "plan", logger.Plan("pro").Key)
	assert.Equal(t, "feature", logger.Feature("translate").Key)
	assert.Equal(t, int64(5), logger.Tokens("amount", 5).Value.Int64())

	ref := logger.Reference("txn_1")
	assert.Equal(t, "external_ref", ref.Key)
	assert.True(t, logger.Reference("").Equal(slog.Attr{}))
}
