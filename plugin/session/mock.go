package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockBackend is a controllable Backend for testing. It behaves like the
// in-memory backend and can simulate a full outage via Fail.
type MockBackend struct {
	mu      sync.RWMutex
	entries map[string]mockEntry
	fail    bool
}

type mockEntry struct {
	value     []byte
	expiresAt time.Time
}

// ErrMockBackendDown is returned by every operation while Fail(true) is set.
var ErrMockBackendDown = errors.New("mock backend is down")

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		entries: make(map[string]mockEntry),
	}
}

// Fail toggles outage simulation.
func (m *MockBackend) Fail(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = down
}

func (m *MockBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, false, ErrMockBackendDown
	}
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MockBackend) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return ErrMockBackendDown
	}
	m.entries[key] = mockEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MockBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return ErrMockBackendDown
	}
	delete(m.entries, key)
	return nil
}

func (m *MockBackend) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, ErrMockBackendDown
	}
	now := time.Now()
	keys := []string{}
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MockBackend) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return ErrMockBackendDown
	}
	return nil
}

func (m *MockBackend) Close() error {
	return nil
}

var _ Backend = (*MockBackend)(nil)
