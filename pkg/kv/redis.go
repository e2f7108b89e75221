package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	redisValueField   = "value"
	redisVersionField = "version"
)

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store keeping each key in a hash with value and version fields.
// prefix is prepended to every key, e.g. "tierkit:".
func NewRedisStore(client redis.UniversalClient, prefix string) Store {
	if client == nil {
		panic("kv: redis client is required")
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) Get(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}

	vals, err := s.client.HMGet(ctx, s.prefix+key, redisValueField, redisVersionField).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("kv: redis get %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, ErrNotFound
	}

	value, _ := vals[0].(string)
	rawVersion, _ := vals[1].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return Entry{}, errors.Join(ErrDecode, fmt.Errorf("key %s: bad version %q", key, rawVersion))
	}
	return Entry{Value: []byte(value), Version: version}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	fullKey := s.prefix + key

	// WATCH makes EXEC fail if another client touched the key after we read the version.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, fullKey, redisVersionField).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, fullKey, redisValueField, value, redisVersionField, expectedVersion+1)
			return nil
		})
		return err
	}, fullKey)

	switch {
	case err == nil:
		return expectedVersion + 1, nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	default:
		return 0, fmt.Errorf("kv: redis put %s: %w", key, err)
	}
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("kv: redis delete %s: %w", key, err)
	}
	return nil
}
