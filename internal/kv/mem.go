package kv

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used by tests and local tooling.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailNextSave, when non-nil, is returned by the next Save call and then
	// cleared. Lets tests exercise failure paths.
	FailNextSave error
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Load(_ context.Context, collection string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[collection]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MemStore) Save(_ context.Context, collection string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextSave != nil {
		err := m.FailNextSave
		m.FailNextSave = nil
		return err
	}
	out := make([]byte, len(value))
	copy(out, value)
	m.data[collection] = out
	return nil
}
