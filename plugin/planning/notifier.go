package planning

import (
	"context"
	"log/slog"

	wferrors "github.com/outwareai/boss-workflow/internal/errors"
)

// LogNotifier writes notifications to the structured log. It is the default
// delivery channel until a chat or webhook notifier is wired in.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, message string) error {
	slog.Info("planning notification", "user_id", userID, "message", message)
	return nil
}

var _ Notifier = LogNotifier{}

// DisabledGenerator stands in when no AI collaborator is configured. Every
// call fails so sessions stay in their current state.
type DisabledGenerator struct{}

func (DisabledGenerator) GenerateBreakdown(context.Context, string) (*Breakdown, error) {
	return nil, wferrors.CollaboratorFailed("AI collaborator is not configured", nil)
}

func (DisabledGenerator) RefineBreakdown(context.Context, *Breakdown, string) (*Breakdown, error) {
	return nil, wferrors.CollaboratorFailed("AI collaborator is not configured", nil)
}

var _ Generator = DisabledGenerator{}
