package workflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/records"
)

// appendHistory records the run. History is best-effort: errors and panics
// are logged and never reach the caller.
func appendHistory(ctx context.Context, rt *Runtime, logger *slog.Logger, cmd history.AppendCommand) {
	if rt.History == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "history append panicked", "action", cmd.Action, "panic", r)
		}
	}()

	if _, err := rt.History.Append(ctx, cmd); err != nil {
		logger.WarnContext(ctx, "history append failed", "action", cmd.Action, "error", err)
	}
}

func recordID(rec *records.Record) *uuid.UUID {
	if rec == nil {
		return nil
	}
	id := rec.ID
	return &id
}

func topName(top *recognition.Suggestion) string {
	if top == nil {
		return ""
	}
	return top.Name
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRecognitionFailed):
		return "recognition_failed"
	default:
		return "persist_failed"
	}
}
