package store

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Store. Several devices may share one Memory to
// exercise synchronisation without a broker.
type Memory struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers *watchers
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string][]byte),
		watchers: newWatchers(),
	}
}

// Get returns a copy of the value of key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores value and notifies watchers synchronously when it changed.
// An empty value deletes the key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	old, existed := m.values[key]
	if len(value) == 0 {
		if !existed {
			m.mu.Unlock()
			return nil
		}
		delete(m.values, key)
	} else {
		if existed && bytes.Equal(old, value) {
			m.mu.Unlock()
			return nil
		}
		m.values[key] = bytes.Clone(value)
	}
	m.mu.Unlock()

	m.watchers.notify(key)
	return nil
}

// Watch registers fn for changes within family.
func (m *Memory) Watch(ctx context.Context, family string, fn ChangeFunc) (func(), error) {
	cancel := m.watchers.add(family, fn)
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

