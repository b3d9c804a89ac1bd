package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store for tests and the one-shot CLI.
// FailDelete and FailPut inject errors for the given keys.
type MemStore struct {
	mu         sync.RWMutex
	objects    map[string][]byte
	FailPut    map[string]error
	FailDelete map[string]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects:    make(map[string][]byte),
		FailPut:    make(map[string]error),
		FailDelete: make(map[string]error),
	}
}

func (m *MemStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailPut[key]; err != nil {
		return err
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailDelete[key]; err != nil {
		return err
	}
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
