package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// memoryBackend is the in-process fallback backend. Entries carry their own
// expiry timestamp; reads check it lazily and a background sweep removes
// whatever reads never touch.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newMemoryBackend creates the in-memory backend and starts its sweep loop.
func newMemoryBackend(sweepInterval time.Duration) *memoryBackend {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &memoryBackend{
		entries: make(map[string]*memoryEntry),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.sweepLoop(sweepInterval)

	return b
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}

	// Lazy expiry check
	if time.Now().After(e.expiresAt) {
		delete(b.entries, key)
		return nil, false, nil
	}

	return e.value, true, nil
}

func (b *memoryBackend) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now()
	keys := []string{}
	for key, e := range b.entries {
		if strings.HasPrefix(key, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memoryBackend) Ping(_ context.Context) error {
	return nil
}

func (b *memoryBackend) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// sweepLoop periodically removes expired entries.
func (b *memoryBackend) sweepLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if removed := b.sweep(); removed > 0 {
				slog.Debug("session sweep removed expired entries", "count", removed)
			}
		}
	}
}

// sweep removes all expired entries and returns how many were removed.
func (b *memoryBackend) sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var toDelete []string
	for key, e := range b.entries {
		if now.After(e.expiresAt) {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		delete(b.entries, key)
	}
	return len(toDelete)
}
