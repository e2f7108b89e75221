package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := s.Get(ctx, "subscription:shop")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("create then update with version", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()

		v1, err := s.Put(ctx, "k", []byte(`{"a":1}`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1)

		v2, err := s.Put(ctx, "k", []byte(`{"a":2}`), v1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2)

		e, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(e.Value))
		assert.Equal(t, int64(2), e.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := s.Put(ctx, "k", []byte(`1`), 0)
		require.NoError(t, err)

		_, err = s.Put(ctx, "k", []byte(`2`), 0)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)

		_, err = s.Put(ctx, "missing", []byte(`2`), 3)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := s.Put(ctx, "k", []byte(`1`), 0)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("empty key", func(t *testing.T) {
		t.Parallel()
		s := kv.NewMemoryStore()
		_, err := s.Get(ctx, "")
		assert.ErrorIs(t, err, kv.ErrEmptyKey)
	})
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tokenBalance:shop-1", kv.Key("tokenBalance", "shop-1"))
}
