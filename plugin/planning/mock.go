package planning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/outwareai/boss-workflow/store"
)

// FakeClock is a controllable Clock for tests. Advance moves time forward
// and runs any timer whose deadline has passed, synchronously.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// NewFakeClock creates a fake clock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.now.Add(d),
		fn:       f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires due timers in deadline order.
// Callbacks run synchronously, outside the clock lock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		} else if !t.stopped && !t.fired {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// MockRecordStore is an in-memory RecordStore for testing.
type MockRecordStore struct {
	mu      sync.RWMutex
	records map[string]*store.PlanningSession
}

// NewMockRecordStore creates an empty mock record store.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		records: make(map[string]*store.PlanningSession),
	}
}

func (m *MockRecordStore) UpsertPlanningSession(_ context.Context, upsert *store.PlanningSession) (*store.PlanningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *upsert
	m.records[upsert.UID] = &copied
	return upsert, nil
}

func (m *MockRecordStore) GetPlanningSession(_ context.Context, uid string) (*store.PlanningSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[uid]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *MockRecordStore) ListPlanningSessions(_ context.Context, find *store.FindPlanningSession) ([]*store.PlanningSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []*store.PlanningSession{}
	for _, record := range m.records {
		if find.UID != nil && record.UID != *find.UID {
			continue
		}
		if find.UserID != nil && record.UserID != *find.UserID {
			continue
		}
		if len(find.States) > 0 && !containsString(find.States, record.State) {
			continue
		}
		if find.UpdatedAfter != nil && record.UpdatedTs <= *find.UpdatedAfter {
			continue
		}
		copied := *record
		list = append(list, &copied)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedTs > list[j].UpdatedTs })
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (m *MockRecordStore) DeletePlanningSessions(_ context.Context, del *store.DeletePlanningSession) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for uid, record := range m.records {
		if del.UID != nil && record.UID != *del.UID {
			continue
		}
		if del.UpdatedBefore != nil && record.UpdatedTs >= *del.UpdatedBefore {
			continue
		}
		if len(del.States) > 0 && !containsString(del.States, record.State) {
			continue
		}
		deleted++
		delete(m.records, uid)
	}
	return deleted, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ RecordStore = (*MockRecordStore)(nil)

// MockGenerator is a controllable Generator for testing.
type MockGenerator struct {
	mu sync.Mutex

	// GenerateFunc overrides the default canned breakdown.
	GenerateFunc func(ctx context.Context, rawInput string) (*Breakdown, error)
	// RefineFunc overrides the default refinement behavior.
	RefineFunc func(ctx context.Context, current *Breakdown, instruction string) (*Breakdown, error)

	GenerateCalls int
	RefineCalls   int
}

func (g *MockGenerator) GenerateBreakdown(ctx context.Context, rawInput string) (*Breakdown, error) {
	g.mu.Lock()
	g.GenerateCalls++
	fn := g.GenerateFunc
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, rawInput)
	}
	return &Breakdown{
		ProjectName: "Generated Project",
		Complexity:  ComplexityModerate,
		Tasks: []TaskDraft{
			{Title: "Draft requirements"},
			{Title: "Build prototype"},
		},
	}, nil
}

func (g *MockGenerator) RefineBreakdown(ctx context.Context, current *Breakdown, instruction string) (*Breakdown, error) {
	g.mu.Lock()
	g.RefineCalls++
	fn := g.RefineFunc
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, current, instruction)
	}
	refined := *current
	refined.Tasks = append(append([]TaskDraft(nil), current.Tasks...), TaskDraft{Title: instruction})
	return &refined, nil
}

var _ Generator = (*MockGenerator)(nil)

// MockNotifier records notifications for assertions.
type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Targets  []string
	Err      error
}

func (n *MockNotifier) Notify(_ context.Context, target, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return n.Err
	}
	n.Targets = append(n.Targets, target)
	n.Messages = append(n.Messages, message)
	return nil
}

// Sent returns a snapshot of delivered messages.
func (n *MockNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Messages...)
}

var _ Notifier = (*MockNotifier)(nil)
