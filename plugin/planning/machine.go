package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
	"github.com/outwareai/boss-workflow/plugin/session"
	"github.com/outwareai/boss-workflow/store"
)

const (
	// DefaultStaleAfter is the staleness threshold for active sessions.
	DefaultStaleAfter = 24 * time.Hour
	// DefaultRetention is how long saved/terminal sessions are kept.
	DefaultRetention = 7 * 24 * time.Hour
)

// RecordStore is the durable persistence the machine needs. *store.Store
// implements it.
type RecordStore interface {
	UpsertPlanningSession(ctx context.Context, upsert *store.PlanningSession) (*store.PlanningSession, error)
	ListPlanningSessions(ctx context.Context, find *store.FindPlanningSession) ([]*store.PlanningSession, error)
	GetPlanningSession(ctx context.Context, uid string) (*store.PlanningSession, error)
	DeletePlanningSessions(ctx context.Context, delete *store.DeletePlanningSession) (int64, error)
}

// MachineConfig configures the planning state machine.
type MachineConfig struct {
	// InactivityWindow is the auto-save delay (default: 30m).
	InactivityWindow time.Duration
	// StaleAfter is the active-session staleness threshold (default: 24h).
	StaleAfter time.Duration
	// Retention is how long saved sessions stay resumable (default: 168h).
	Retention time.Duration
	// Clock defaults to the runtime clock; tests inject a fake.
	Clock Clock
}

// Machine owns every transition of planning sessions and enforces the
// single-active-session-per-user invariant. All read-modify-write sequences
// run under the session store's per-key lock for the owning user.
type Machine struct {
	sessions  session.Service
	records   RecordStore
	generator Generator
	notifier  Notifier
	timeouts  *Manager
	clock     Clock

	staleAfter time.Duration
	retention  time.Duration
}

// NewMachine creates the planning state machine and its timeout manager.
func NewMachine(sessions session.Service, records RecordStore, generator Generator, notifier Notifier, cfg MachineConfig) *Machine {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}

	m := &Machine{
		sessions:   sessions,
		records:    records,
		generator:  generator,
		notifier:   notifier,
		clock:      cfg.Clock,
		staleAfter: cfg.StaleAfter,
		retention:  cfg.Retention,
	}
	m.timeouts = NewManager(ManagerConfig{
		Window: cfg.InactivityWindow,
		Clock:  cfg.Clock,
	}, m.handleTimeout)
	return m
}

// Timeouts exposes the timeout manager for status inspection.
func (m *Machine) Timeouts() *Manager {
	return m.timeouts
}

// Shutdown cancels all outstanding timers.
func (m *Machine) Shutdown() {
	m.timeouts.CancelAll()
}

// GetOrCreateResult is the outcome of GetOrCreate.
type GetOrCreateResult struct {
	Session *Session
	// Created is false when an existing active session was returned.
	Created bool
	// AutoSaved is the stale session checkpointed on the way, if any.
	AutoSaved *Session
	// Resumable lists saved sessions within the retention window. They are
	// surfaced as candidates, never auto-resumed.
	Resumable []*Session
}

// GetOrCreate returns the user's active session, or creates a fresh one.
// An active session older than the staleness threshold is auto-saved first.
func (m *Machine) GetOrCreate(ctx context.Context, userID, description string) (*GetOrCreateResult, error) {
	var result *GetOrCreateResult
	err := m.sessions.WithKeyLock(session.KindPlanning, userID, func() error {
		var err error
		result, err = m.getOrCreateLocked(ctx, userID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Created {
		m.timeouts.Start(result.Session.SessionID, userID, userID)
	}
	return result, nil
}

func (m *Machine) getOrCreateLocked(ctx context.Context, userID, description string) (*GetOrCreateResult, error) {
	result := &GetOrCreateResult{}

	active, err := m.loadActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if m.clock.Now().Sub(active.LastActivityAt) <= m.staleAfter {
			result.Session = active
			return result, nil
		}

		// Stale: checkpoint it and fall through to creating a fresh one.
		saved, err := m.saveLocked(ctx, active)
		if err != nil {
			return nil, err
		}
		result.AutoSaved = saved
		m.notify(ctx, userID, fmt.Sprintf(
			"Your planning session %q went stale and was saved. Resume it with code %s.",
			saved.projectLabel(), saved.ResumeCode))
	}

	resumable, err := m.listSavedLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Resumable = resumable

	now := m.clock.Now()
	sess := &Session{
		SessionID:      uuid.NewString(),
		ResumeCode:     shortuuid.New(),
		UserID:         userID,
		State:          StateInitiated,
		RawInput:       description,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}

	slog.Info("planning session created", "session_id", sess.SessionID, "user_id", userID)
	result.Session = sess
	result.Created = true
	return result, nil
}

// Get returns the session with the given id.
func (m *Machine) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.load(ctx, sessionID)
}

// ListResumable returns the user's saved sessions within the retention
// window, most recent first.
func (m *Machine) ListResumable(ctx context.Context, userID string) ([]*Session, error) {
	var out []*Session
	err := m.sessions.WithKeyLock(session.KindPlanning, userID, func() error {
		var err error
		out, err = m.listSavedLocked(ctx, userID)
		return err
	})
	return out, err
}

// Save checkpoints a session to SAVED. Only legal from a non-terminal,
// non-saved state.
func (m *Machine) Save(ctx context.Context, sessionID string) (*Session, error) {
	return m.withSession(ctx, sessionID, m.saveLocked)
}

// Resume restores a SAVED session to the most advanced state its data
// supports and re-arms the inactivity timer.
func (m *Machine) Resume(ctx context.Context, sessionID string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State != StateSaved {
			return nil, wferrors.InvalidTransition(string(sess.State), "resume")
		}

		// The single-active-session invariant holds across resumes too.
		active, err := m.loadActiveForUser(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, wferrors.SessionConflict(sess.UserID).
				WithContext("active_session_id", active.SessionID)
		}

		sess.State = sess.resumeState()
		sess.LastActivityAt = m.clock.Now()
		if err := m.persist(ctx, sess); err != nil {
			return nil, err
		}
		slog.Info("planning session resumed",
			"session_id", sess.SessionID, "state", sess.State)
		return sess, nil
	})
}

// ResumeByCode resolves a user-facing resume code from a save notification
// to the owning saved session and resumes it.
func (m *Machine) ResumeByCode(ctx context.Context, userID, code string) (*Session, error) {
	saved, err := m.ListResumable(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sess := range saved {
		if sess.ResumeCode == code {
			return m.Resume(ctx, sess.SessionID)
		}
	}
	return nil, wferrors.NotFound("no saved planning session with resume code " + code)
}

// Advance applies one event transition. Illegal events fail with an
// invalid-transition error so callers can tell "nothing changed" from
// "this wasn't a legal move".
func (m *Machine) Advance(ctx context.Context, sessionID string, event Event) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if err := sess.apply(event); err != nil {
			slog.Warn("planning transition rejected",
				"session_id", sessionID, "state", sess.State, "event", event)
			return nil, err
		}
		return m.commit(ctx, sess)
	})
}

// StartGathering moves a fresh session into GATHERING_INFO with the
// clarifying questions to present.
func (m *Machine) StartGathering(ctx context.Context, sessionID string, questions []string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if err := sess.apply(EventStartGathering); err != nil {
			return nil, err
		}
		sess.ClarifyingQuestions = make([]Question, 0, len(questions))
		for _, q := range questions {
			sess.ClarifyingQuestions = append(sess.ClarifyingQuestions, Question{Text: q})
		}
		return m.commit(ctx, sess)
	})
}

// AppendAnswer records the answer to the first outstanding clarifying
// question and appends it to the raw input. Answering the last question
// advances the session to AI_ANALYZING.
func (m *Machine) AppendAnswer(ctx context.Context, sessionID, answer string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State != StateGatheringInfo {
			return nil, wferrors.InvalidTransition(string(sess.State), "append_answer")
		}

		answered := false
		for i := range sess.ClarifyingQuestions {
			if !sess.ClarifyingQuestions[i].Answered {
				sess.ClarifyingQuestions[i].Answer = answer
				sess.ClarifyingQuestions[i].Answered = true
				answered = true
				break
			}
		}
		if !answered {
			return nil, wferrors.InvalidArgument("no outstanding clarifying question")
		}
		sess.RawInput += "\n" + answer

		if sess.AllQuestionsAnswered() {
			if err := sess.apply(EventAnswersComplete); err != nil {
				return nil, err
			}
		}
		return m.commit(ctx, sess)
	})
}

// Analyze runs the breakdown generator for a session in AI_ANALYZING. On
// collaborator failure the session stays put and no partial breakdown is
// persisted.
func (m *Machine) Analyze(ctx context.Context, sessionID string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State != StateAIAnalyzing {
			return nil, wferrors.InvalidTransition(string(sess.State), "analyze")
		}

		breakdown, err := m.generator.GenerateBreakdown(ctx, sess.RawInput)
		if err != nil {
			return nil, wferrors.CollaboratorFailed("breakdown generation failed", err)
		}
		if err := breakdown.Validate(); err != nil {
			return nil, err
		}

		sess.Breakdown = breakdown
		sess.TaskDrafts = append([]TaskDraft(nil), breakdown.Tasks...)
		if err := sess.apply(EventBreakdownReady); err != nil {
			return nil, err
		}
		return m.commit(ctx, sess)
	})
}

// Refine applies a user instruction to the breakdown through the generator:
// REVIEWING_BREAKDOWN -> REFINING, then back once the refined breakdown is
// produced. The instruction is recorded in the audit log.
func (m *Machine) Refine(ctx context.Context, sessionID, instruction string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State != StateReviewingBreakdown && sess.State != StateRefining {
			return nil, wferrors.InvalidTransition(string(sess.State), string(EventRequestChanges))
		}
		if sess.State == StateReviewingBreakdown {
			if err := sess.apply(EventRequestChanges); err != nil {
				return nil, err
			}
			if _, err := m.commit(ctx, sess); err != nil {
				return nil, err
			}
		}

		refined, err := m.generator.RefineBreakdown(ctx, sess.Breakdown, instruction)
		if err != nil {
			// The session stays in REFINING; the user can retry.
			return nil, wferrors.CollaboratorFailed("breakdown refinement failed", err)
		}
		if err := refined.Validate(); err != nil {
			return nil, err
		}

		sess.Breakdown = refined
		sess.TaskDrafts = append([]TaskDraft(nil), refined.Tasks...)
		sess.UserEdits = append(sess.UserEdits, Edit{Instruction: instruction, At: m.clock.Now()})
		if err := sess.apply(EventRefined); err != nil {
			return nil, err
		}
		return m.commit(ctx, sess)
	})
}

// Cancel moves any non-terminal session to CANCELLED. Cancelling an
// already-cancelled session is an idempotent no-op.
func (m *Machine) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State == StateCancelled {
			return sess, nil
		}
		if sess.State == StateCompleted {
			return nil, wferrors.InvalidTransition(string(sess.State), "cancel")
		}

		sess.State = StateCancelled
		sess.LastActivityAt = m.clock.Now()
		if err := m.persist(ctx, sess); err != nil {
			return nil, err
		}
		slog.Info("planning session cancelled", "session_id", sess.SessionID)
		return sess, nil
	})
}

// Finalize completes a FINALIZING session, recording the materialized task
// ids. Permitted only once per session.
func (m *Machine) Finalize(ctx context.Context, sessionID string, taskIDs []string) (*Session, error) {
	return m.withSession(ctx, sessionID, func(ctx context.Context, sess *Session) (*Session, error) {
		if sess.State != StateFinalizing {
			return nil, wferrors.InvalidTransition(string(sess.State), "finalize")
		}

		sess.State = StateCompleted
		sess.TaskIDs = append([]string(nil), taskIDs...)
		sess.LastActivityAt = m.clock.Now()
		if err := m.persist(ctx, sess); err != nil {
			return nil, err
		}
		slog.Info("planning session completed",
			"session_id", sess.SessionID, "tasks", len(taskIDs))
		return sess, nil
	})
}

// handleTimeout is the timeout manager's fire callback: save the idle
// session, then tell its owner how to get back to it.
func (m *Machine) handleTimeout(ctx context.Context, sessionID, userID, notifyTarget string) error {
	sess, err := m.Save(ctx, sessionID)
	if err != nil {
		// A session that reached SAVED or a terminal state through user
		// action in the meantime needs no checkpoint.
		if wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition) {
			return nil
		}
		return err
	}

	slog.Info("planning session auto-saved after inactivity",
		"session_id", sessionID, "user_id", userID)
	m.notify(ctx, notifyTarget, fmt.Sprintf(
		"Your planning session %q was saved after a period of inactivity. Resume it with code %s.",
		sess.projectLabel(), sess.ResumeCode))
	return nil
}

// withSession runs fn under the per-user key lock, reloading the session
// inside the lock so read-modify-write sequences never lose updates.
func (m *Machine) withSession(ctx context.Context, sessionID string, fn func(context.Context, *Session) (*Session, error)) (*Session, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var out *Session
	err = m.sessions.WithKeyLock(session.KindPlanning, sess.UserID, func() error {
		sess, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}
		out, err = fn(ctx, sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.syncTimer(out)
	return out, nil
}

// syncTimer re-arms or cancels the inactivity timer to match the state the
// session settled in. It must run after the key lock is released: Reset waits
// for a mid-fire timer, and that fire's save needs the lock to complete.
func (m *Machine) syncTimer(sess *Session) {
	if sess == nil {
		return
	}
	if sess.State.IsActive() {
		m.timeouts.Reset(sess.SessionID, sess.UserID, sess.UserID)
	} else {
		m.timeouts.Cancel(sess.SessionID)
	}
}

// commit bumps activity and persists. withSession syncs the timer once the
// key lock is released.
func (m *Machine) commit(ctx context.Context, sess *Session) (*Session, error) {
	sess.LastActivityAt = m.clock.Now()
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// saveLocked transitions a session to SAVED. Caller holds the user key lock.
func (m *Machine) saveLocked(ctx context.Context, sess *Session) (*Session, error) {
	if sess.State == StateSaved || sess.State.IsTerminal() {
		return nil, wferrors.InvalidTransition(string(sess.State), "save")
	}

	sess.State = StateSaved
	sess.LastActivityAt = m.clock.Now()
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	// Cancel never waits on a mid-fire timer, so it is safe under the lock.
	m.timeouts.Cancel(sess.SessionID)
	slog.Info("planning session saved", "session_id", sess.SessionID)
	return sess, nil
}

// persist writes the durable record and keeps the hot copy in the session
// store in step: active sessions are cached under the user's planning key,
// anything else evicts it.
func (m *Machine) persist(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to marshal planning session")
	}
	if _, err := m.records.UpsertPlanningSession(ctx, &store.PlanningSession{
		UID:       sess.SessionID,
		UserID:    sess.UserID,
		State:     string(sess.State),
		Payload:   string(data),
		CreatedTs: sess.CreatedAt.Unix(),
		UpdatedTs: sess.LastActivityAt.Unix(),
	}); err != nil {
		return errors.Wrap(err, "failed to persist planning session")
	}

	// Hot copy is best effort: a backend outage degrades to durable reads.
	if sess.State.IsActive() {
		if payload, err := session.Encode(sess); err == nil {
			_ = m.sessions.Set(ctx, session.KindPlanning, sess.UserID, payload)
		}
	} else {
		_ = m.sessions.Delete(ctx, session.KindPlanning, sess.UserID)
	}
	return nil
}

// load fetches a session by id from the durable store.
func (m *Machine) load(ctx context.Context, sessionID string) (*Session, error) {
	record, err := m.records.GetPlanningSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load planning session")
	}
	if record == nil {
		return nil, wferrors.NotFound("planning session not found: " + sessionID)
	}
	return decodeRecord(record)
}

// loadActiveForUser returns the user's active session, trying the hot copy
// first and falling back to the durable store.
func (m *Machine) loadActiveForUser(ctx context.Context, userID string) (*Session, error) {
	if payload, status := m.sessions.Get(ctx, session.KindPlanning, userID); status == session.StatusOK {
		if sess, err := session.Decode[*Session](payload); err == nil && sess != nil && sess.State.IsActive() {
			return sess, nil
		}
	}

	records, err := m.records.ListPlanningSessions(ctx, &store.FindPlanningSession{
		UserID: &userID,
		States: ActiveStates,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active planning sessions")
	}
	if len(records) == 0 {
		return nil, nil
	}
	// Most recent first per store ordering; anything beyond the first would
	// violate the single-active invariant and is ignored rather than forked.
	return decodeRecord(records[0])
}

// listSavedLocked returns saved sessions within the retention window.
func (m *Machine) listSavedLocked(ctx context.Context, userID string) ([]*Session, error) {
	cutoff := m.clock.Now().Add(-m.retention).Unix()
	records, err := m.records.ListPlanningSessions(ctx, &store.FindPlanningSession{
		UserID:       &userID,
		States:       []string{string(StateSaved)},
		UpdatedAfter: &cutoff,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list saved planning sessions")
	}

	out := make([]*Session, 0, len(records))
	for _, record := range records {
		sess, err := decodeRecord(record)
		if err != nil {
			slog.Warn("skipping undecodable planning session", "uid", record.UID, "error", err)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// notify delivers a best-effort message; failures are logged and dropped.
func (m *Machine) notify(ctx context.Context, target, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, target, message); err != nil {
		slog.Warn("planning notification failed", "target", target, "error", err)
	}
}

func decodeRecord(record *store.PlanningSession) (*Session, error) {
	var sess Session
	if err := json.Unmarshal([]byte(record.Payload), &sess); err != nil {
		return nil, errors.Wrapf(err, "failed to decode planning session %s", record.UID)
	}
	return &sess, nil
}

func (s *Session) projectLabel() string {
	if s.Breakdown != nil && s.Breakdown.ProjectName != "" {
		return s.Breakdown.ProjectName
	}
	if len(s.RawInput) > 40 {
		return s.RawInput[:40] + "…"
	}
	return s.RawInput
}
