// Package session provides a generic, typed key/value store for ephemeral
// workflow state. Records are grouped into kinds, expire after a per-kind
// TTL, and live either in a durable redis backend or in an equivalent
// in-process map when no backend is configured or reachable.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Payload is the schema-less record body at the store boundary. Kinds that
// need typed access decode it through Decode/Encode at the point of use.
type Payload map[string]any

// Status discriminates the outcome of a read so callers can tell "never
// existed" apart from "backend is down right now".
type Status int

const (
	// StatusOK means the record was found.
	StatusOK Status = iota
	// StatusNotFound means no live record exists for the key.
	StatusNotFound
	// StatusBackendError means the durable backend failed the request.
	StatusBackendError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusBackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Stats reports live record counts per kind and in total.
type Stats struct {
	Kinds map[Kind]int `json:"kinds"`
	Total int          `json:"total"`
}

// Service defines the session store interface consumed by the planning
// state machine and the other workflow handlers.
type Service interface {
	// Get retrieves the payload for (kind, identifier). A missing key is
	// reported through the status, never as an error.
	Get(ctx context.Context, kind Kind, identifier string) (Payload, Status)

	// Set stores the payload with the kind's default TTL, replacing any
	// prior record and restarting its TTL clock.
	Set(ctx context.Context, kind Kind, identifier string, payload Payload) error

	// SetTTL is Set with an explicit TTL.
	SetTTL(ctx context.Context, kind Kind, identifier string, payload Payload, ttl time.Duration) error

	// Delete removes the record. Deleting an absent key is not an error.
	Delete(ctx context.Context, kind Kind, identifier string) error

	// ListKeys enumerates the identifiers of all live records of a kind.
	ListKeys(ctx context.Context, kind Kind) ([]string, error)

	// Stats returns live record counts per kind and in total.
	Stats(ctx context.Context) (*Stats, error)

	// Clear removes every record of a kind.
	Clear(ctx context.Context, kind Kind) error

	// ClearAll removes every record of every kind.
	ClearAll(ctx context.Context) error

	// WithKeyLock runs fn while holding the mutex for (kind, identifier).
	// Read-modify-write sequences that must be atomic go through here.
	WithKeyLock(kind Kind, identifier string, fn func() error) error

	// BackendMode reports which backend is serving requests ("redis" or
	// "memory").
	BackendMode() string

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases backend connections and stops background work.
	Close() error
}

// Decode converts a schema-less payload into a kind's typed view.
func Decode[T any](p Payload) (T, error) {
	var out T
	data, err := json.Marshal(p)
	if err != nil {
		return out, errors.Wrap(err, "failed to marshal payload")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errors.Wrap(err, "failed to decode payload")
	}
	return out, nil
}

// Encode converts a typed view back into a schema-less payload.
func Encode[T any](v T) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value")
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}
	return p, nil
}
