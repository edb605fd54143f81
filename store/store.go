package store

import (
	"context"

	"github.com/outwareai/boss-workflow/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate initializes the schema if needed.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.GetDB().PingContext(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) UpsertPlanningSession(ctx context.Context, upsert *PlanningSession) (*PlanningSession, error) {
	return s.driver.UpsertPlanningSession(ctx, upsert)
}

func (s *Store) ListPlanningSessions(ctx context.Context, find *FindPlanningSession) ([]*PlanningSession, error) {
	return s.driver.ListPlanningSessions(ctx, find)
}

// GetPlanningSession returns the session with the given uid, or nil when it
// does not exist.
func (s *Store) GetPlanningSession(ctx context.Context, uid string) (*PlanningSession, error) {
	list, err := s.driver.ListPlanningSessions(ctx, &FindPlanningSession{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) DeletePlanningSessions(ctx context.Context, delete *DeletePlanningSession) (int64, error) {
	return s.driver.DeletePlanningSessions(ctx, delete)
}
