package planning

import (
	"context"
	"strings"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
)

// Complexity classifies a project breakdown.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// TaskDraft is one task proposed by the breakdown, mutable during refining.
type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	DueHint     string `json:"due_hint,omitempty"`
}

// Breakdown is the structured output of the AI collaborator for a project
// description.
type Breakdown struct {
	ProjectName string      `json:"project_name"`
	Complexity  Complexity  `json:"complexity"`
	Tasks       []TaskDraft `json:"tasks"`
}

// Validate rejects malformed collaborator output so partial breakdowns are
// never persisted.
func (b *Breakdown) Validate() error {
	if b == nil {
		return wferrors.CollaboratorFailed("breakdown is empty", nil)
	}
	if strings.TrimSpace(b.ProjectName) == "" {
		return wferrors.CollaboratorFailed("breakdown has no project name", nil)
	}
	if len(b.Tasks) == 0 {
		return wferrors.CollaboratorFailed("breakdown has no tasks", nil)
	}
	for _, task := range b.Tasks {
		if strings.TrimSpace(task.Title) == "" {
			return wferrors.CollaboratorFailed("breakdown contains a task without a title", nil)
		}
	}
	return nil
}

// Generator is the AI collaborator that turns free-text project descriptions
// into structured breakdowns. It may fail or return malformed data; callers
// validate and stay in their current state on failure.
type Generator interface {
	// GenerateBreakdown produces a breakdown from the accumulated input.
	GenerateBreakdown(ctx context.Context, rawInput string) (*Breakdown, error)

	// RefineBreakdown applies a refinement instruction to an existing
	// breakdown and returns the updated one.
	RefineBreakdown(ctx context.Context, current *Breakdown, instruction string) (*Breakdown, error)
}

// Notifier delivers best-effort messages to users. Failures are logged,
// never retried synchronously, and never block the state machine.
type Notifier interface {
	Notify(ctx context.Context, userID string, message string) error
}
