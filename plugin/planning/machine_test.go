package planning

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
	"github.com/outwareai/boss-workflow/plugin/session"
)

type machineFixture struct {
	machine   *Machine
	clock     *FakeClock
	records   *MockRecordStore
	generator *MockGenerator
	notifier  *MockNotifier
}

func newMachineFixture(t *testing.T, cfg MachineConfig) *machineFixture {
	t.Helper()

	f := &machineFixture{
		clock:     NewFakeClock(time.Unix(1_700_000_000, 0)),
		records:   NewMockRecordStore(),
		generator: &MockGenerator{},
		notifier:  &MockNotifier{},
	}
	cfg.Clock = f.clock

	sessions := session.NewServiceWithBackend(session.NewMockBackend(), "memory", time.Second)
	t.Cleanup(func() { _ = sessions.Close() })

	f.machine = NewMachine(sessions, f.records, f.generator, f.notifier, cfg)
	t.Cleanup(f.machine.Shutdown)
	return f
}

// drive takes a fresh session through gathering and analysis to
// REVIEWING_BREAKDOWN.
func (f *machineFixture) driveToReview(t *testing.T, sessionID string) *Session {
	t.Helper()
	ctx := context.Background()

	_, err := f.machine.StartGathering(ctx, sessionID, []string{"What is the deadline?"})
	require.NoError(t, err)
	_, err = f.machine.AppendAnswer(ctx, sessionID, "end of quarter")
	require.NoError(t, err)
	sess, err := f.machine.Analyze(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, StateReviewingBreakdown, sess.State)
	return sess
}

func TestMachine_CreateAnswerAnalyzeScenario(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	result, err := f.machine.GetOrCreate(ctx, "u1", "build a website")
	require.NoError(t, err)
	require.True(t, result.Created)
	assert.Equal(t, StateInitiated, result.Session.State)
	assert.Equal(t, "build a website", result.Session.RawInput)
	assert.Equal(t, TimerActive, f.machine.Timeouts().Status(result.Session.SessionID))

	sess, err := f.machine.StartGathering(ctx, result.Session.SessionID,
		[]string{"Who is the audience?", "What is the budget?"})
	require.NoError(t, err)
	assert.Equal(t, StateGatheringInfo, sess.State)

	// Partial answers keep the session gathering.
	sess, err = f.machine.AppendAnswer(ctx, sess.SessionID, "small businesses")
	require.NoError(t, err)
	assert.Equal(t, StateGatheringInfo, sess.State)

	// The last answer advances to analysis.
	sess, err = f.machine.AppendAnswer(ctx, sess.SessionID, "about 10k")
	require.NoError(t, err)
	assert.Equal(t, StateAIAnalyzing, sess.State)
	assert.Contains(t, sess.RawInput, "small businesses")
	assert.Contains(t, sess.RawInput, "about 10k")

	sess, err = f.machine.Analyze(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateReviewingBreakdown, sess.State)
	require.NotNil(t, sess.Breakdown)
	assert.Len(t, sess.TaskDrafts, len(sess.Breakdown.Tasks))
}

func TestMachine_SingleActiveSessionPerUser(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	first, err := f.machine.GetOrCreate(ctx, "u1", "project A")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := f.machine.GetOrCreate(ctx, "u1", "project B")
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.Session.SessionID, again.Session.SessionID)
		// The existing session is returned unchanged, not forked.
		assert.Equal(t, "project A", again.Session.RawInput)
	}

	// A different user gets an independent session.
	other, err := f.machine.GetOrCreate(ctx, "u2", "project C")
	require.NoError(t, err)
	assert.True(t, other.Created)
	assert.NotEqual(t, first.Session.SessionID, other.Session.SessionID)
}

func TestMachine_StaleSessionAutoSaved(t *testing.T) {
	// Long inactivity window so the stale path, not the timer, kicks in.
	f := newMachineFixture(t, MachineConfig{
		InactivityWindow: 100 * time.Hour,
		StaleAfter:       24 * time.Hour,
	})
	ctx := context.Background()

	first, err := f.machine.GetOrCreate(ctx, "u1", "old project")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	result, err := f.machine.GetOrCreate(ctx, "u1", "new project")
	require.NoError(t, err)
	require.True(t, result.Created)
	assert.NotEqual(t, first.Session.SessionID, result.Session.SessionID)

	require.NotNil(t, result.AutoSaved)
	assert.Equal(t, first.Session.SessionID, result.AutoSaved.SessionID)
	assert.Equal(t, StateSaved, result.AutoSaved.State)

	stored, err := f.machine.Get(ctx, first.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, stored.State)
}

func TestMachine_SavedSessionsSurfacedAsResumable(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	first, err := f.machine.GetOrCreate(ctx, "u1", "paused project")
	require.NoError(t, err)
	_, err = f.machine.Save(ctx, first.Session.SessionID)
	require.NoError(t, err)

	result, err := f.machine.GetOrCreate(ctx, "u1", "next project")
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Len(t, result.Resumable, 1)
	assert.Equal(t, first.Session.SessionID, result.Resumable[0].SessionID)
}

func TestMachine_SaveAndResume(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	t.Run("ResumeRestoresReviewing", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "reviewer", "site relaunch")
		require.NoError(t, err)
		sess := f.driveToReview(t, created.Session.SessionID)

		saved, err := f.machine.Save(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateSaved, saved.State)
		assert.Equal(t, TimerAbsent, f.machine.Timeouts().Status(sess.SessionID))

		resumed, err := f.machine.Resume(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateReviewingBreakdown, resumed.State, "breakdown present resumes into review")
		assert.Equal(t, TimerActive, f.machine.Timeouts().Status(sess.SessionID))
	})

	t.Run("ResumeRestoresGathering", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "gatherer", "app idea")
		require.NoError(t, err)
		_, err = f.machine.StartGathering(ctx, created.Session.SessionID, []string{"Platform?"})
		require.NoError(t, err)

		_, err = f.machine.Save(ctx, created.Session.SessionID)
		require.NoError(t, err)

		resumed, err := f.machine.Resume(ctx, created.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateGatheringInfo, resumed.State)
	})

	t.Run("ResumeRestoresInitiated", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "starter", "vague idea")
		require.NoError(t, err)
		_, err = f.machine.Save(ctx, created.Session.SessionID)
		require.NoError(t, err)

		resumed, err := f.machine.Resume(ctx, created.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateInitiated, resumed.State)
	})

	t.Run("ResumeByCode", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "coder", "resumable idea")
		require.NoError(t, err)
		_, err = f.machine.Save(ctx, created.Session.SessionID)
		require.NoError(t, err)

		resumed, err := f.machine.ResumeByCode(ctx, "coder", created.Session.ResumeCode)
		require.NoError(t, err)
		assert.Equal(t, created.Session.SessionID, resumed.SessionID)

		_, err = f.machine.ResumeByCode(ctx, "coder", "nope")
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeNotFound))
	})

	t.Run("SaveTwiceRejected", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "saver", "idea")
		require.NoError(t, err)
		_, err = f.machine.Save(ctx, created.Session.SessionID)
		require.NoError(t, err)

		_, err = f.machine.Save(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition))
	})

	t.Run("ResumeNonSavedRejected", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "resumer", "idea")
		require.NoError(t, err)

		_, err = f.machine.Resume(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition))
	})

	t.Run("ResumeWithActiveSessionConflicts", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "busy", "first")
		require.NoError(t, err)
		_, err = f.machine.Save(ctx, created.Session.SessionID)
		require.NoError(t, err)

		_, err = f.machine.GetOrCreate(ctx, "busy", "second")
		require.NoError(t, err)

		_, err = f.machine.Resume(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeSessionConflict))
	})
}

func TestMachine_TransitionLegality(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	t.Run("TerminalStatesAreImmutable", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "canceller", "doomed")
		require.NoError(t, err)
		_, err = f.machine.Cancel(ctx, created.Session.SessionID)
		require.NoError(t, err)

		for _, event := range []Event{EventStartGathering, EventAnswersComplete, EventApprove} {
			_, err := f.machine.Advance(ctx, created.Session.SessionID, event)
			assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition), "event %s", event)
		}
		_, err = f.machine.Save(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition))
	})

	t.Run("AnswersCompleteRequiresAllAnswered", func(t *testing.T) {
		created, err := f.machine.GetOrCreate(ctx, "answerer", "quiz")
		require.NoError(t, err)
		_, err = f.machine.StartGathering(ctx, created.Session.SessionID, []string{"q1", "q2"})
		require.NoError(t, err)

		_, err = f.machine.Advance(ctx, created.Session.SessionID, EventAnswersComplete)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition))

		_, err = f.machine.AppendAnswer(ctx, created.Session.SessionID, "a1")
		require.NoError(t, err)
		_, err = f.machine.AppendAnswer(ctx, created.Session.SessionID, "a2")
		require.NoError(t, err)

		sess, err := f.machine.Get(ctx, created.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateAIAnalyzing, sess.State)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		_, err := f.machine.Advance(ctx, "no-such-session", EventApprove)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeNotFound))
	})
}

func TestMachine_RefineAndFinalize(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "marketing site")
	require.NoError(t, err)
	sess := f.driveToReview(t, created.Session.SessionID)

	refined, err := f.machine.Refine(ctx, sess.SessionID, "add a QA task")
	require.NoError(t, err)
	assert.Equal(t, StateReviewingBreakdown, refined.State)
	require.Len(t, refined.UserEdits, 1)
	assert.Equal(t, "add a QA task", refined.UserEdits[0].Instruction)
	assert.Len(t, refined.Breakdown.Tasks, 3)

	approved, err := f.machine.Advance(ctx, sess.SessionID, EventApprove)
	require.NoError(t, err)
	assert.Equal(t, StateFinalizing, approved.State)

	done, err := f.machine.Finalize(ctx, sess.SessionID, []string{"T-1", "T-2", "T-3"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, []string{"T-1", "T-2", "T-3"}, done.TaskIDs)
	assert.Equal(t, TimerAbsent, f.machine.Timeouts().Status(sess.SessionID))

	// Finalize is permitted only once.
	_, err = f.machine.Finalize(ctx, sess.SessionID, []string{"T-4"})
	assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeInvalidTransition))
}

func TestMachine_CancelIdempotent(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "short-lived")
	require.NoError(t, err)

	cancelled, err := f.machine.Cancel(ctx, created.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)

	again, err := f.machine.Cancel(ctx, created.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, again.State)
}

func TestMachine_CollaboratorFailureKeepsState(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "flaky ai")
	require.NoError(t, err)
	_, err = f.machine.StartGathering(ctx, created.Session.SessionID, []string{"q"})
	require.NoError(t, err)
	_, err = f.machine.AppendAnswer(ctx, created.Session.SessionID, "a")
	require.NoError(t, err)

	t.Run("GeneratorError", func(t *testing.T) {
		f.generator.GenerateFunc = func(context.Context, string) (*Breakdown, error) {
			return nil, errors.New("model unavailable")
		}

		_, err := f.machine.Analyze(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeCollaboratorFailed))

		sess, err := f.machine.Get(ctx, created.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateAIAnalyzing, sess.State)
		assert.Nil(t, sess.Breakdown, "no partial breakdown persisted")
	})

	t.Run("MalformedBreakdown", func(t *testing.T) {
		f.generator.GenerateFunc = func(context.Context, string) (*Breakdown, error) {
			return &Breakdown{ProjectName: "x"}, nil // no tasks
		}

		_, err := f.machine.Analyze(ctx, created.Session.SessionID)
		assert.True(t, wferrors.IsCode(err, wferrors.ErrCodeCollaboratorFailed))
	})

	t.Run("RetrySucceeds", func(t *testing.T) {
		f.generator.GenerateFunc = nil

		sess, err := f.machine.Analyze(ctx, created.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateReviewingBreakdown, sess.State)
	})
}

func TestMachine_TimeoutAutoSavesAndNotifies(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{InactivityWindow: 30 * time.Minute})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "idle project")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)

	sess, err := f.machine.Get(ctx, created.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, sess.State)
	assert.Equal(t, TimerFired, f.machine.Timeouts().Status(sess.SessionID))

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], sess.ResumeCode)
}

func TestMachine_ActivityResetsTimeout(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{InactivityWindow: 30 * time.Minute})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "busy project")
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	_, err = f.machine.StartGathering(ctx, created.Session.SessionID, []string{"q"})
	require.NoError(t, err)

	// 20m + 20m of idle time, but the interaction in between reset the clock.
	f.clock.Advance(20 * time.Minute)

	sess, err := f.machine.Get(ctx, created.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateGatheringInfo, sess.State)

	f.clock.Advance(10 * time.Minute)

	sess, err = f.machine.Get(ctx, created.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, sess.State)
}

// A timer may fire while a user transition holds the owner's key lock. The
// fire's save must wait for the lock; the transition must never wait for the
// fire while still holding it.
func TestMachine_TimerFireDuringActiveTransition(t *testing.T) {
	f := newMachineFixture(t, MachineConfig{InactivityWindow: 30 * time.Minute})
	ctx := context.Background()

	created, err := f.machine.GetOrCreate(ctx, "u1", "racy project")
	require.NoError(t, err)
	sessionID := created.Session.SessionID
	_, err = f.machine.StartGathering(ctx, sessionID, []string{"q"})
	require.NoError(t, err)
	_, err = f.machine.AppendAnswer(ctx, sessionID, "a")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.generator.GenerateFunc = func(context.Context, string) (*Breakdown, error) {
		close(entered)
		<-release
		return &Breakdown{
			ProjectName: "Racy Project",
			Tasks:       []TaskDraft{{Title: "only task"}},
		}, nil
	}

	analyzeDone := make(chan error, 1)
	go func() {
		_, err := f.machine.Analyze(ctx, sessionID)
		analyzeDone <- err
	}()

	// Fire the window while Analyze holds u1's key lock inside the
	// generator. Advance runs the fire callback, so it blocks on that lock
	// exactly like a real-clock fire goroutine would.
	<-entered
	fired := make(chan struct{})
	go func() {
		f.clock.Advance(30 * time.Minute)
		close(fired)
	}()

	// Wait until the fire callback is committed (and therefore blocked on
	// the key lock) before letting the transition finish.
	timeouts := f.machine.Timeouts()
	require.Eventually(t, func() bool {
		timeouts.mu.Lock()
		defer timeouts.mu.Unlock()
		entry := timeouts.timers[sessionID]
		return entry != nil && entry.firing
	}, 5*time.Second, time.Millisecond)
	close(release)

	select {
	case err := <-analyzeDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Analyze never returned after a timer fired mid-transition")
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("fire never completed after the key lock was released")
	}

	// The fire found the session still active once the lock freed up and
	// checkpointed it.
	sess, err := f.machine.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, sess.State)
	require.Len(t, f.notifier.Sent(), 1)
	assert.Contains(t, f.notifier.Sent()[0], sess.ResumeCode)
}
