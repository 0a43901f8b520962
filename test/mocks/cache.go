package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockCache is an in-memory mock implementation of the cache.Cache interface
// Used for testing without requiring a real Redis instance
type MockCache struct {
	data map[string]string
	mu   sync.RWMutex

	// GetErr and SetErr, when set, are returned by Get and Set.
	GetErr error
	SetErr error

	Gets int
	Sets int
}

// NewMockCache creates a new mock cache instance
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string]string)}
}

// Get retrieves a value from the mock cache
func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Gets++
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.data[key], nil // empty string for missing keys, like the Redis cache
}

// Set stores a value in the mock cache
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sets++
	if m.SetErr != nil {
		return m.SetErr
	}

	switch v := value.(type) {
	case string:
		m.data[key] = v
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprintf("%v", v)
	}
	// expiration is ignored
	return nil
}

// Del deletes keys from the mock cache
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// Health always returns nil for mock
func (m *MockCache) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for mock
func (m *MockCache) Close() error {
	return nil
}

// Has reports whether a key is stored.
func (m *MockCache) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok
}
