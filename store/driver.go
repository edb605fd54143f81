package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// PlanningSession model related methods.
	UpsertPlanningSession(ctx context.Context, upsert *PlanningSession) (*PlanningSession, error)
	ListPlanningSessions(ctx context.Context, find *FindPlanningSession) ([]*PlanningSession, error)
	DeletePlanningSessions(ctx context.Context, delete *DeletePlanningSession) (int64, error)
}
