package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests, development, and single-process deployments where
// durability across restarts is not required. Values are kept in their JSON
// form so Set enforces serializability exactly like the database-backed
// stores, and Get always hands back a copy.
//
// MemStore is safe for concurrent use.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]json.RawMessage)}
}

// Set implements the Store interface.
func (m *MemStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

// Get implements the Store interface.
func (m *MemStore) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// Delete implements the Store interface.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Append implements the Store interface. The whole read-modify-write runs
// under one lock, so concurrent appends never lose updates.
func (m *MemStore) Append(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := []json.RawMessage{}
	if existing, ok := m.values[key]; ok {
		if err := json.Unmarshal(existing, &list); err != nil {
			return fmt.Errorf("append %s: existing value is not a list: %w", key, err)
		}
	}
	list = append(list, raw)
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	m.values[key] = encoded
	return nil
}

// Len returns the number of stored keys. Intended for tests.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
