package store

import (
	"maps"
	"sync"
)

// MemoryStore is a process-local Store, used for tests and ephemeral devices.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	puts   int
}

// NewMemoryStore returns a MemoryStore seeded with initial (may be nil).
func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		if v != "" {
			values[k] = v
		}
	}
	return &MemoryStore{values: values}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *MemoryStore) Put(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		if v == "" {
			delete(m.values, k)
		} else {
			m.values[k] = v
		}
	}
	m.puts++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Snapshot returns a copy of the stored values.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values)
}

// Puts returns how many Put calls have been applied.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
