package cachestore

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of Store, used for local
// development and tests. It is not shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expires map[string]time.Time // key -> absolute expiry, whole-key only
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MemoryStore) expired(key string) bool {
	if at, ok := m.expires[key]; ok && time.Now().After(at) {
		delete(m.hashes, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", false, nil
	}
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemoryStore) HDel(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	if h, ok := m.hashes[key]; ok {
		delete(h, field)
	}
	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = time.Now().Add(time.Duration(seconds) * time.Second)
	return nil
}

func (m *MemoryStore) SetEX(_ context.Context, key, value string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[key] = map[string]string{"": value}
	m.expires[key] = time.Now().Add(time.Duration(seconds) * time.Second)
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	delete(m.expires, key)
	return nil
}

func (m *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.hashes {
		if m.expired(key) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}
