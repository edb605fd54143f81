package planning

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInactivityWindow is the default delay before an idle planning
	// session is auto-saved.
	DefaultInactivityWindow = 30 * time.Minute
	// defaultFireTimeout bounds the auto-save callback.
	defaultFireTimeout = 30 * time.Second
	// firedHistoryLimit caps the fired-session set so it cannot grow without
	// bound across long uptimes; only Status resolution depends on it.
	firedHistoryLimit = 10000
)

// TimerStatus describes the timer of one session.
type TimerStatus string

const (
	TimerActive TimerStatus = "active"
	TimerFired  TimerStatus = "fired"
	TimerAbsent TimerStatus = "absent"
)

// FireFunc is invoked when a session's inactivity window elapses. It is
// expected to save the session and notify its owner.
type FireFunc func(ctx context.Context, sessionID, userID, notifyTarget string) error

// ManagerConfig configures the timeout manager.
type ManagerConfig struct {
	// Window is the inactivity window (default: 30m).
	Window time.Duration
	// FireTimeout bounds each auto-save callback (default: 30s).
	FireTimeout time.Duration
	// Clock defaults to the runtime clock; tests inject a fake.
	Clock Clock
}

// Manager holds one cancellable single-shot timer per active planning
// session. Timers for different sessions run independently; for one session
// the reset/cancel/fire race is resolved deterministically: a cancel or
// reset observed before the fire callback begins its save wins, otherwise
// the fire runs to completion before a new timer is accepted.
type Manager struct {
	window      time.Duration
	fireTimeout time.Duration
	clock       Clock
	fire        FireFunc

	mu     sync.Mutex
	timers map[string]*timerEntry
	fired  map[string]bool
	closed bool
}

type timerEntry struct {
	sessionID    string
	userID       string
	notifyTarget string

	cancelled bool
	firing    bool
	// done is closed once the fire callback has run to completion.
	done  chan struct{}
	timer Timer
}

// NewManager creates a timeout manager that invokes fire when a session's
// inactivity window elapses.
func NewManager(cfg ManagerConfig, fire FireFunc) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = DefaultInactivityWindow
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = defaultFireTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	return &Manager{
		window:      cfg.Window,
		fireTimeout: cfg.FireTimeout,
		clock:       cfg.Clock,
		fire:        fire,
		timers:      make(map[string]*timerEntry),
		fired:       make(map[string]bool),
	}
}

// Start arms the single-shot timer for a session, cancelling any existing
// one first. If the existing timer is mid-fire, Start waits for the fire to
// complete before arming the new timer.
func (m *Manager) Start(sessionID, userID, notifyTarget string) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}

		existing := m.timers[sessionID]
		if existing != nil && existing.firing {
			done := existing.done
			m.mu.Unlock()
			<-done
			continue
		}
		if existing != nil {
			existing.cancelled = true
			existing.timer.Stop()
			delete(m.timers, sessionID)
		}

		entry := &timerEntry{
			sessionID:    sessionID,
			userID:       userID,
			notifyTarget: notifyTarget,
			done:         make(chan struct{}),
		}
		entry.timer = m.clock.AfterFunc(m.window, func() { m.onFire(entry) })
		m.timers[sessionID] = entry
		delete(m.fired, sessionID)
		m.mu.Unlock()
		return
	}
}

// Reset is cancel-then-start; called on every user message directed at an
// active session.
func (m *Manager) Reset(sessionID, userID, notifyTarget string) {
	m.Start(sessionID, userID, notifyTarget)
}

// Cancel stops the session's timer without firing. Cancelling an absent or
// already-fired timer is a no-op.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.timers[sessionID]
	if entry == nil || entry.firing {
		return
	}
	entry.cancelled = true
	entry.timer.Stop()
	delete(m.timers, sessionID)
}

// Status reports the timer state of a session.
func (m *Manager) Status(sessionID string) TimerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.timers[sessionID]; entry != nil && !entry.cancelled {
		return TimerActive
	}
	if m.fired[sessionID] {
		return TimerFired
	}
	return TimerAbsent
}

// ActiveCount returns the number of armed timers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// CancelAll stops every outstanding timer and refuses new ones. Used at
// process shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for sessionID, entry := range m.timers {
		if entry.firing {
			continue
		}
		entry.cancelled = true
		entry.timer.Stop()
		delete(m.timers, sessionID)
	}
	m.fired = make(map[string]bool)
	slog.Info("planning timeout manager stopped")
}

// onFire runs when a session's timer elapses. The cancellation flag is
// checked under the lock immediately before the save begins, so a cancel or
// reset that lands first always wins.
func (m *Manager) onFire(entry *timerEntry) {
	m.mu.Lock()
	if entry.cancelled || m.timers[entry.sessionID] != entry {
		m.mu.Unlock()
		return
	}
	entry.firing = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.fireTimeout)
	err := m.fire(ctx, entry.sessionID, entry.userID, entry.notifyTarget)
	cancel()
	if err != nil {
		slog.Error("planning session auto-save failed",
			"session_id", entry.sessionID, "user_id", entry.userID, "error", err)
	}

	// The timer entry is removed regardless of the save outcome to avoid
	// leaking handles.
	m.mu.Lock()
	if m.timers[entry.sessionID] == entry {
		delete(m.timers, entry.sessionID)
	}
	if len(m.fired) >= firedHistoryLimit {
		m.fired = make(map[string]bool, firedHistoryLimit)
	}
	m.fired[entry.sessionID] = true
	close(entry.done)
	m.mu.Unlock()
}
