package store

// PlanningSession is the durable record of a planning conversation. Unlike
// generic session-kind records it carries no TTL; rows survive until the
// retention job removes saved/terminal sessions past the retention window.
type PlanningSession struct {
	// UID is the globally unique session id.
	UID string
	// UserID is the owning user.
	UserID string
	// State mirrors the lifecycle state for cheap filtering.
	State string
	// Payload is the JSON-serialized planning session.
	Payload string
	CreatedTs int64
	UpdatedTs int64
}

type FindPlanningSession struct {
	UID    *string
	UserID *string
	// States filters to sessions in any of the given states.
	States []string
	// UpdatedAfter filters to sessions touched after the given unix time.
	UpdatedAfter *int64
	Limit        *int
}

type DeletePlanningSession struct {
	UID *string
	// UpdatedBefore together with States drives retention cleanup.
	UpdatedBefore *int64
	States        []string
}
