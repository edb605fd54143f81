// Package planning manages multi-turn project planning conversations: the
// lifecycle state machine, the per-session inactivity timer that auto-saves
// idle work, and retention of saved sessions.
package planning

import (
	"time"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
)

// State is the lifecycle state of a planning session.
type State string

const (
	StateInitiated          State = "INITIATED"
	StateGatheringInfo      State = "GATHERING_INFO"
	StateAIAnalyzing        State = "AI_ANALYZING"
	StateReviewingBreakdown State = "REVIEWING_BREAKDOWN"
	StateRefining           State = "REFINING"
	StateFinalizing         State = "FINALIZING"
	StateSaved              State = "SAVED"
	StateCompleted          State = "COMPLETED"
	StateCancelled          State = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IsActive reports whether the session is neither saved nor terminal.
func (s State) IsActive() bool {
	return !s.IsTerminal() && s != StateSaved
}

// ActiveStates lists every active state, for store queries.
var ActiveStates = []string{
	string(StateInitiated),
	string(StateGatheringInfo),
	string(StateAIAnalyzing),
	string(StateReviewingBreakdown),
	string(StateRefining),
	string(StateFinalizing),
}

// Event drives a transition of the state machine.
type Event string

const (
	EventStartGathering  Event = "start_gathering"
	EventAnswersComplete Event = "answers_complete"
	EventBreakdownReady  Event = "breakdown_ready"
	EventRequestChanges  Event = "request_changes"
	EventRefined         Event = "refined"
	EventApprove         Event = "approve"
)

// transitions is the legal move table. Save, resume and cancel are handled
// separately because their source states are ranges, not single states.
var transitions = map[State]map[Event]State{
	StateInitiated: {
		EventStartGathering: StateGatheringInfo,
	},
	StateGatheringInfo: {
		EventAnswersComplete: StateAIAnalyzing,
	},
	StateAIAnalyzing: {
		EventBreakdownReady: StateReviewingBreakdown,
	},
	StateReviewingBreakdown: {
		EventRequestChanges: StateRefining,
		EventApprove:        StateFinalizing,
	},
	StateRefining: {
		EventRefined: StateReviewingBreakdown,
	},
}

// Question is a clarifying question presented to the user.
type Question struct {
	Text     string `json:"text"`
	Answer   string `json:"answer,omitempty"`
	Answered bool   `json:"answered"`
}

// Edit is one entry of the append-only refinement audit log.
type Edit struct {
	Instruction string    `json:"instruction"`
	At          time.Time `json:"at"`
}

// Session is a single planning conversation.
type Session struct {
	SessionID string `json:"session_id"`
	// ResumeCode is the short user-facing id embedded in save notifications.
	ResumeCode string `json:"resume_code"`
	UserID     string `json:"user_id"`
	State      State  `json:"state"`

	// RawInput accumulates the project description; clarifying answers are
	// appended as they arrive.
	RawInput            string      `json:"raw_input"`
	ClarifyingQuestions []Question  `json:"clarifying_questions,omitempty"`
	Breakdown           *Breakdown  `json:"breakdown,omitempty"`
	TaskDrafts          []TaskDraft `json:"task_drafts,omitempty"`
	UserEdits           []Edit      `json:"user_edits,omitempty"`
	// TaskIDs records the tasks materialized at finalization.
	TaskIDs []string `json:"task_ids,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// AllQuestionsAnswered reports whether no clarifying question is outstanding.
func (s *Session) AllQuestionsAnswered() bool {
	for _, q := range s.ClarifyingQuestions {
		if !q.Answered {
			return false
		}
	}
	return true
}

// resumeState returns the most advanced state consistent with the data the
// session accumulated before it was saved.
func (s *Session) resumeState() State {
	if s.Breakdown != nil {
		return StateReviewingBreakdown
	}
	if len(s.ClarifyingQuestions) > 0 {
		return StateGatheringInfo
	}
	return StateInitiated
}

// apply performs one event transition, returning an invalid-transition
// error when the event is not legal in the current state.
func (s *Session) apply(event Event) error {
	next, ok := transitions[s.State][event]
	if !ok {
		return wferrors.InvalidTransition(string(s.State), string(event))
	}
	if s.State == StateGatheringInfo && event == EventAnswersComplete && !s.AllQuestionsAnswered() {
		return wferrors.InvalidTransition(string(s.State), string(event)).
			WithContext("reason", "clarifying questions remain unanswered")
	}
	s.State = next
	return nil
}
