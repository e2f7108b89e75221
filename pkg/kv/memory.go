package kv

import (
	"context"
	"slices"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string]Entry)}
}

func (m *memoryStore) Get(_ context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Value: slices.Clone(e.Value), Version: e.Version}, nil
}

func (m *memoryStore) Put(_ context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[key]
	switch {
	case !ok && expectedVersion != 0:
		return 0, ErrVersionConflict
	case ok && cur.Version != expectedVersion:
		return 0, ErrVersionConflict
	}

	next := expectedVersion + 1
	m.data[key] = Entry{Value: slices.Clone(value), Version: next}
	return next, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
