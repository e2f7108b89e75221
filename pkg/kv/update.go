package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Mutator changes v in place. exists is false when the key was absent and v is the zero value.
// Returning ErrSkipWrite ends the update without writing; any other error aborts it.
type Mutator[T any] func(v *T, exists bool) error

// Versioned is a decoded value with the version it was read at.
type Versioned[T any] struct {
	Value   T
	Version int64
	Exists  bool
}

// Load reads and decodes key. A missing key yields a zero value with Exists=false.
func Load[T any](ctx context.Context, s Store, key string) (Versioned[T], error) {
	var out Versioned[T]
	if key == "" {
		return out, ErrEmptyKey
	}

	entry, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(entry.Value, &out.Value); err != nil {
		return out, errors.Join(ErrDecode, fmt.Errorf("key %s: %w", key, err))
	}
	out.Version = entry.Version
	out.Exists = true
	return out, nil
}

// Update runs a read-modify-write cycle on key and retries on version conflicts.
// fn may be invoked several times and must derive its changes from v only.
func Update[T any](ctx context.Context, s Store, key string, fn Mutator[T], policy ...RetryPolicy) (Versioned[T], error) {
	p := DefaultRetryPolicy()
	if len(policy) > 0 {
		p = policy[0]
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		cur, err := Load[T](ctx, s, key)
		if err != nil {
			return cur, err
		}

		if err := fn(&cur.Value, cur.Exists); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return cur, nil
			}
			return cur, err
		}

		data, err := json.Marshal(cur.Value)
		if err != nil {
			return cur, errors.Join(ErrEncode, err)
		}

		version, err := s.Put(ctx, key, data, cur.Version)
		if err == nil {
			cur.Version = version
			cur.Exists = true
			return cur, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return cur, err
		}
		if attempt >= p.MaxAttempts {
			return cur, errors.Join(ErrTooManyConflicts, err)
		}
		if p.Backoff != nil {
			if err := sleep(ctx, p.Backoff.NextInterval(attempt)); err != nil {
				return cur, err
			}
		}
	}
}
