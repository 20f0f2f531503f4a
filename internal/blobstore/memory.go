package blobstore

import (
	"context"
	"sync"
)

// memoryStore is the degraded no-durable-store fallback. State is process
// local, so it is fine for local development and useless for multi-instance
// deployments; callers log the degradation at startup.
type memoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func init() {
	Register("memory", func(args interface{}) (Store, error) {
		return NewMemory(), nil
	})
}

func NewMemory() Store {
	return &memoryStore{items: make(map[string][]byte)}
}

func (m *memoryStore) Type() string {
	return "memory"
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, true, nil
}

func (m *memoryStore) Put(ctx context.Context, key string, data []byte) error {
	clone := make([]byte, len(data))
	copy(clone, data)
	m.mu.Lock()
	m.items[key] = clone
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}
