package session

import "time"

// Kind is a named category of ephemeral session state. Each kind owns a key
// namespace and a default TTL.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindPendingReview Kind = "pending_review"
	KindPendingAction Kind = "pending_action"
	KindBatch         Kind = "batch"
	KindSpec          Kind = "spec"
	KindRecentMessage Kind = "recent_message"
	KindActiveHandler Kind = "active_handler"
	KindPlanning      Kind = "planning"
)

// defaultTTLs maps each kind to its default time-to-live.
var defaultTTLs = map[Kind]time.Duration{
	KindValidation:    10 * time.Minute,
	KindPendingReview: 24 * time.Hour,
	KindPendingAction: 1 * time.Hour,
	KindBatch:         30 * time.Minute,
	KindSpec:          2 * time.Hour,
	KindRecentMessage: 5 * time.Minute,
	KindActiveHandler: 15 * time.Minute,
	KindPlanning:      30 * time.Minute,
}

// AllKinds lists every known session kind, in a stable order.
var AllKinds = []Kind{
	KindValidation,
	KindPendingReview,
	KindPendingAction,
	KindBatch,
	KindSpec,
	KindRecentMessage,
	KindActiveHandler,
	KindPlanning,
}

// IsValid reports whether k is a known session kind.
func (k Kind) IsValid() bool {
	_, ok := defaultTTLs[k]
	return ok
}

// DefaultTTL returns the default time-to-live for records of this kind.
func (k Kind) DefaultTTL() time.Duration {
	if ttl, ok := defaultTTLs[k]; ok {
		return ttl
	}
	return 30 * time.Minute
}

// Prefix returns the key namespace for this kind.
func (k Kind) Prefix() string {
	return string(k) + ":"
}

// Key returns the full backend key for an identifier of this kind.
func (k Kind) Key(identifier string) string {
	return k.Prefix() + identifier
}
