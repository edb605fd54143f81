package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
)

const defaultBackendTimeout = 30 * time.Second

// ServiceConfig configures the session store.
type ServiceConfig struct {
	// Redis enables the durable backend. Nil means memory-only.
	Redis *RedisConfig
	// BackendTimeout bounds each durable-backend request (default: 30s).
	BackendTimeout time.Duration
	// SweepInterval is how often the in-memory fallback sweeps expired
	// entries (default: 1m). Redis expires natively and needs no sweep.
	SweepInterval time.Duration
}

// service implements Service on top of a Backend. Whichever backend is
// selected at construction, callers observe identical semantics.
type service struct {
	backend Backend
	mode    string

	timeout time.Duration
	keys    *keyMutex

	// backendDown tracks outage state so a backend failure is logged once
	// per outage instead of once per operation.
	backendDown atomic.Bool
}

// NewService creates the session store. If a redis backend is configured it
// is pinged once; on failure the store silently degrades to the in-memory
// fallback with a single warning.
func NewService(cfg ServiceConfig) Service {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = defaultBackendTimeout
	}

	s := &service{
		timeout: cfg.BackendTimeout,
		keys:    newKeyMutex(),
	}

	if cfg.Redis != nil {
		backend, err := newRedisBackend(cfg.Redis)
		if err != nil {
			slog.Warn("session store falling back to in-memory backend",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			slog.Info("session store using redis backend", "addr", cfg.Redis.Addr)
			s.backend = backend
			s.mode = "redis"
			return s
		}
	}

	s.backend = newMemoryBackend(cfg.SweepInterval)
	s.mode = "memory"
	return s
}

// NewServiceWithBackend creates a session store over an explicit backend.
// Used by tests and by callers that manage backend lifecycle themselves.
func NewServiceWithBackend(backend Backend, mode string, timeout time.Duration) Service {
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &service{
		backend: backend,
		mode:    mode,
		timeout: timeout,
		keys:    newKeyMutex(),
	}
}

// Get retrieves the payload for (kind, identifier). Backend failures come
// back as StatusBackendError so callers can tell an outage from a miss.
func (s *service) Get(ctx context.Context, kind Kind, identifier string) (Payload, Status) {
	if err := validateKey(kind, identifier); err != nil {
		slog.Error("session get with invalid key", "kind", kind, "identifier", identifier, "error", err)
		return nil, StatusNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, found, err := s.backend.Get(ctx, kind.Key(identifier))
	if err != nil {
		s.logBackendError("get", kind, identifier, err)
		return nil, StatusBackendError
	}
	s.markBackendUp()
	if !found {
		return nil, StatusNotFound
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Warn("failed to unmarshal session payload", "kind", kind, "identifier", identifier, "error", err)
		return nil, StatusNotFound
	}
	return payload, StatusOK
}

// Set stores the payload with the kind's default TTL.
func (s *service) Set(ctx context.Context, kind Kind, identifier string, payload Payload) error {
	return s.SetTTL(ctx, kind, identifier, payload, kind.DefaultTTL())
}

// SetTTL stores the payload, replacing any prior record and its TTL clock.
func (s *service) SetTTL(ctx context.Context, kind Kind, identifier string, payload Payload, ttl time.Duration) error {
	if err := validateKey(kind, identifier); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = kind.DefaultTTL()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return wferrors.InvalidArgument("payload is not serializable").WithContext("cause", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.SetWithTTL(ctx, kind.Key(identifier), data, ttl); err != nil {
		s.logBackendError("set", kind, identifier, err)
		return wferrors.BackendUnavailable("failed to store session record", err)
	}
	s.markBackendUp()
	return nil
}

// Delete removes the record. Idempotent.
func (s *service) Delete(ctx context.Context, kind Kind, identifier string) error {
	if err := validateKey(kind, identifier); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Delete(ctx, kind.Key(identifier)); err != nil {
		s.logBackendError("delete", kind, identifier, err)
		return wferrors.BackendUnavailable("failed to delete session record", err)
	}
	s.markBackendUp()
	return nil
}

// ListKeys enumerates the identifiers of all live records of a kind.
func (s *service) ListKeys(ctx context.Context, kind Kind) ([]string, error) {
	if !kind.IsValid() {
		return nil, wferrors.InvalidArgument("unknown session kind: " + string(kind))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := s.backend.ListPrefix(ctx, kind.Prefix())
	if err != nil {
		s.logBackendError("list", kind, "", err)
		return nil, wferrors.BackendUnavailable("failed to list session records", err)
	}
	s.markBackendUp()

	identifiers := make([]string, 0, len(keys))
	for _, key := range keys {
		identifiers = append(identifiers, strings.TrimPrefix(key, kind.Prefix()))
	}
	return identifiers, nil
}

// Stats returns live record counts per kind and in total.
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Kinds: make(map[Kind]int, len(AllKinds))}
	for _, kind := range AllKinds {
		identifiers, err := s.ListKeys(ctx, kind)
		if err != nil {
			return nil, err
		}
		stats.Kinds[kind] = len(identifiers)
		stats.Total += len(identifiers)
	}
	return stats, nil
}

// Clear removes every record of a kind.
func (s *service) Clear(ctx context.Context, kind Kind) error {
	identifiers, err := s.ListKeys(ctx, kind)
	if err != nil {
		return err
	}
	for _, identifier := range identifiers {
		if err := s.Delete(ctx, kind, identifier); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every record of every kind.
func (s *service) ClearAll(ctx context.Context) error {
	for _, kind := range AllKinds {
		if err := s.Clear(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

// WithKeyLock runs fn while holding the mutex for (kind, identifier).
// Individual operations are serialized by the backend; sequences that read,
// mutate and write back must run inside fn to be atomic.
func (s *service) WithKeyLock(kind Kind, identifier string, fn func() error) error {
	key := kind.Key(identifier)
	s.keys.Lock(key)
	defer s.keys.Unlock(key)
	return fn()
}

// BackendMode reports which backend is serving requests.
func (s *service) BackendMode() string {
	return s.mode
}

// Ping checks backend health.
func (s *service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Ping(ctx)
}

// Close releases backend connections and stops background work.
func (s *service) Close() error {
	return s.backend.Close()
}

// logBackendError logs a backend failure once per outage.
func (s *service) logBackendError(op string, kind Kind, identifier string, err error) {
	if s.backendDown.CompareAndSwap(false, true) {
		slog.Warn("session backend unavailable, records act as expired until it recovers",
			"op", op, "kind", kind, "identifier", identifier, "error", err)
	}
}

// markBackendUp clears the outage flag after a successful operation.
func (s *service) markBackendUp() {
	if s.backendDown.CompareAndSwap(true, false) {
		slog.Info("session backend recovered")
	}
}

func validateKey(kind Kind, identifier string) error {
	if !kind.IsValid() {
		return wferrors.InvalidArgument("unknown session kind: " + string(kind))
	}
	if identifier == "" {
		return wferrors.InvalidArgument("session identifier must not be empty")
	}
	if strings.ContainsAny(identifier, ":*") {
		return wferrors.InvalidArgument("session identifier contains reserved characters: " + identifier)
	}
	return nil
}

var _ Service = (*service)(nil)
