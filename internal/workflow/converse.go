package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/metrics"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/pkg/httpclient"
)

const conversation = "conversation"

// Question is a follow-up question about a prior identification.
type Question struct {
	Question string `json:"question"`
}

// Converse asks a follow-up question about the identification providerID.
func Converse(
	ctx context.Context,
	rt *Runtime,
	identity auth.Identity,
	providerID string,
	q Question,
) (*recognition.Conversation, error) {
	conv, err := converse(ctx, rt, identity, providerID, q)

	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.WorkflowRuns.WithLabelValues(conversation, outcome).Inc()

	return conv, err
}

func converse(
	ctx context.Context,
	rt *Runtime,
	identity auth.Identity,
	providerID string,
	q Question,
) (_ *recognition.Conversation, err error) {
	logger := rt.logger().With("workflow", conversation)

	owner, err := rt.Auth.ValidateCaller(ctx, identity)
	if err != nil {
		logger.WarnContext(ctx, "caller rejected", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	logger = logger.With("owner_id", owner.ID)

	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "workflow failed", "error", err)
		}
	}()

	question := strings.TrimSpace(q.Question)
	if providerID == "" {
		return nil, fmt.Errorf("%w: identification id is required", ErrInvalidRequest)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	if err := checkOwner(ctx, rt, owner.ID, providerID); err != nil {
		return nil, err
	}

	policy := retryPolicy(ctx, rt.Retry, conversation, logger)
	conv, err := httpclient.Retry(ctx, policy, func(ctx context.Context) (*recognition.Conversation, error) {
		return rt.Recognition.Converse(ctx, providerID, question)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}

	meta := map[string]any{
		"provider_id": providerID,
		"question":    question,
		"answer":      conv.Answer(),
	}
	if conv.RemainingCalls != nil {
		meta["remaining_calls"] = *conv.RemainingCalls
	}

	appendHistory(ctx, rt, logger, history.AppendCommand{
		OwnerID:  owner.ID,
		Action:   history.ActionConversation,
		Metadata: meta,
	})

	return conv, nil
}

// checkOwner rejects provider ids the owner never produced. Unknown and
// foreign ids look the same to the caller.
func checkOwner(ctx context.Context, rt *Runtime, ownerID, providerID string) error {
	if rt.Owners == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, providerID)
	}

	owned, err := rt.Owners.OwnsIdentification(ctx, ownerID, providerID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	if !owned {
		return fmt.Errorf("%w: %s", ErrNotFound, providerID)
	}
	return nil
}
