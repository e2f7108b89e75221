package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Run("creates JSON logger", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")
		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text formatter option", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithTextFormatter())
		log.Info("hello")
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("respects level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})

	t.Run("extracts tenant from context", func(t *testing.T) {
		type tenantKey struct{}
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextValue("tenant_id", tenantKey{}),
		)
		ctx := context.WithValue(context.Background(), tenantKey{}, "shop-1")
		log.InfoContext(ctx, "reserved")
		entry := decode(t, buf)
		assert.Equal(t, "shop-1", entry["tenant_id"])
	})

	t.Run("extractors survive With", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
				return slog.String("dyn", "yes"), true
			}),
		).With(logger.Component("ledger"))
		log.Info("msg")
		entry := decode(t, buf)
		assert.Equal(t, "yes", entry["dyn"])
		assert.Equal(t, "ledger", entry["component"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Run("production uses json at info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("prod", "tierkit"), logger.WithOutput(buf))
		log.Debug("hidden")
		log.Info("shown")
		entry := decode(t, buf)
		assert.Equal(t, "tierkit", entry["service"])
		assert.Equal(t, logger.EnvProduction, entry["env"])
	})

	t.Run("unknown falls back to development", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("local", "tierkit"), logger.WithOutput(buf))
		log.Debug("visible")
		assert.Contains(t, buf.String(), "env=development")
	})
}

func TestWithFormatPanics(t *testing.T) {
	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}

func TestDiscard(t *testing.T) {
	log := logger.Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
