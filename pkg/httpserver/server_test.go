package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/httpserver"
)

func listener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func waitUp(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()
	ln := listener(t)
	srv := httpserver.New(httpserver.WithListener(ln), httpserver.WithShutdownTimeout(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	}()
	waitUp(t, "http://"+ln.Addr().String())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not return")
	}
}

func TestRunTwice(t *testing.T) {
	t.Parallel()
	ln := listener(t)
	srv := httpserver.New(httpserver.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx, nil) }()
	waitUp(t, "http://"+ln.Addr().String())

	err := srv.Run(ctx, nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestStartError(t *testing.T) {
	t.Parallel()
	ln := listener(t)
	defer ln.Close()

	srv := httpserver.New(httpserver.WithAddr(ln.Addr().String()))
	err := srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()
	srv := httpserver.New()
	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestOptionPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { httpserver.WithAddr("") })
	assert.Panics(t, func() { httpserver.WithListener(nil) })
	assert.Panics(t, func() { httpserver.WithReadTimeout(0) })
	assert.Panics(t, func() { httpserver.WithWriteTimeout(-time.Second) })
	assert.Panics(t, func() { httpserver.WithIdleTimeout(0) })
	assert.Panics(t, func() { httpserver.WithShutdownTimeout(0) })
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	ln := listener(t)
	srv := httpserver.NewFromConfig(httpserver.Config{ReadTimeout: time.Second}, httpserver.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, httpserver.LivenessHandler()) }()
	waitUp(t, "http://"+ln.Addr().String())
	cancel()
	require.NoError(t, <-done)
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpserver.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.ReadinessHandler(nil, time.Second, map[string]httpserver.Check{
			"store": func(context.Context) error { return nil },
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, rec.Body.String())
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.ReadinessHandler(nil, time.Second, map[string]httpserver.Check{
			"store":   func(context.Context) error { return nil },
			"billing": func(context.Context) error { return errors.New("down") },
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, map[string]string{"store": "ok", "billing": "failing"}, body.Checks)
	})
}
