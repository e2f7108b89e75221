package kv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

type counter struct {
	N int `json:"n"`
}

// conflictingStore fails the first n Puts with a version conflict.
type conflictingStore struct {
	kv.Store
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) Put(ctx context.Context, key string, value []byte, v int64) (int64, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return 0, kv.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.Store.Put(ctx, key, value, v)
}

func fastPolicy(attempts int) kv.RetryPolicy {
	return kv.RetryPolicy{MaxAttempts: attempts, Backoff: kv.FixedBackoff{Interval: time.Millisecond}}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates missing key", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		res, err := kv.Update(ctx, s, "c", func(v *counter, exists bool) error {
			assert.False(t, exists)
			v.N = 1
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Value.N)
		assert.Equal(t, int64(1), res.Version)
		assert.True(t, res.Exists)
	})

	t.Run("skip write leaves version", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error { v.N = 5; return nil })
		require.NoError(t, err)

		res, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error {
			v.N = 100
			return kv.ErrSkipWrite
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Version)

		loaded, err := kv.Load[counter](ctx, s, "c")
		require.NoError(t, err)
		assert.Equal(t, 5, loaded.Value.N)
	})

	t.Run("mutator error aborts", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		boom := errors.New("boom")
		_, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error { return boom })
		assert.ErrorIs(t, err, boom)

		loaded, err := kv.Load[counter](ctx, s, "c")
		require.NoError(t, err)
		assert.False(t, loaded.Exists)
	})

	t.Run("retries conflicts", func(t *testing.T) {
		t.Parallel()
		s := &conflictingStore{Store: kv.NewMemoryStore(), conflicts: 2}
		calls := 0
		res, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error {
			calls++
			v.N++
			return nil
		}, fastPolicy(5))
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 1, res.Value.N)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		s := &conflictingStore{Store: kv.NewMemoryStore(), conflicts: 10}
		_, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error { v.N++; return nil }, fastPolicy(3))
		assert.ErrorIs(t, err, kv.ErrTooManyConflicts)
		assert.True(t, kv.IsConflict(err))
	})

	t.Run("decode error", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := s.Put(ctx, "c", []byte(`not-json`), 0)
		require.NoError(t, err)
		_, err = kv.Load[counter](ctx, s, "c")
		assert.ErrorIs(t, err, kv.ErrDecode)
	})
}

func TestUpdate_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := kv.NewMemoryStore()

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for range writers {
		go func() {
			defer wg.Done()
			_, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error {
				v.N++
				return nil
			}, kv.RetryPolicy{MaxAttempts: 1000, Backoff: kv.ExponentialBackoff{
				InitialInterval: 100 * time.Microsecond,
				MaxInterval:     2 * time.Millisecond,
				JitterFactor:    0.5,
			}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := kv.Load[counter](ctx, s, "c")
	require.NoError(t, err)
	assert.Equal(t, writers, loaded.Value.N)
	assert.Equal(t, int64(writers), loaded.Version)
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()
	b := kv.ExponentialBackoff{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, 10*time.Millisecond, b.NextInterval(1))
	assert.Equal(t, 20*time.Millisecond, b.NextInterval(2))
	assert.Equal(t, 50*time.Millisecond, b.NextInterval(5))
}

func TestUpdate_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &conflictingStore{Store: kv.NewMemoryStore(), conflicts: 5}
	_, err := kv.Update(ctx, s, "c", func(v *counter, _ bool) error { return nil },
		kv.RetryPolicy{MaxAttempts: 5, Backoff: kv.FixedBackoff{Interval: time.Second}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	t.Run("succeeds after retries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := fastPolicy(5).Do(ctx, func(int) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := fastPolicy(5).Do(ctx, func(int) error {
			calls++
			return errFatal
		}, func(err error) bool { return !errors.Is(err, errFatal) })
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("returns last error when attempts run out", func(t *testing.T) {
		t.Parallel()
		var seen []int
		err := fastPolicy(3).Do(ctx, func(attempt int) error {
			seen = append(seen, attempt)
			return errTransient
		}, nil)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})
}
