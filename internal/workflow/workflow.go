// Package workflow runs the identification and health assessment
// orchestrations: validate the caller, call the recognition service with
// retry, rank suggestions, persist images, upsert the owner's record, and
// append a history entry.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/metrics"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/pkg/httpclient"
)

// Result is the normalized response of a workflow run.
type Result struct {
	ProviderID   string                   `json:"provider_id"`
	Status       string                   `json:"status"`
	ModelVersion string                   `json:"model_version"`
	CustomID     string                   `json:"custom_id,omitempty"`
	IsPlant      *recognition.Binary      `json:"is_plant,omitempty"`
	IsHealthy    *recognition.Binary      `json:"is_healthy,omitempty"`
	Suggestions  []recognition.Suggestion `json:"suggestions"`
	Top          *recognition.Suggestion  `json:"top_suggestion"`
	Images       []string                 `json:"images"`
	Record       *records.Record          `json:"record,omitempty"`
}

type flow struct {
	name   string
	kind   records.Kind
	action string
	folder func(Folders) string
	call   func(recognition.Client) func(context.Context, recognition.Input) (*recognition.Assessment, error)
	rank   recognition.RankFunc
}

var identification = flow{
	name:   "identification",
	kind:   records.KindSpecies,
	action: history.ActionIdentification,
	folder: func(f Folders) string { return f.Species },
	call: func(c recognition.Client) func(context.Context, recognition.Input) (*recognition.Assessment, error) {
		return c.Identify
	},
	rank: recognition.RankSpecies,
}

var healthAssessment = flow{
	name:   "health_assessment",
	kind:   records.KindDiagnosis,
	action: history.ActionHealthAssessment,
	folder: func(f Folders) string { return f.Health },
	call: func(c recognition.Client) func(context.Context, recognition.Input) (*recognition.Assessment, error) {
		return c.AssessHealth
	},
	rank: recognition.RankDisease,
}

// Identify identifies the species shown in req's images.
func Identify(ctx context.Context, rt *Runtime, identity auth.Identity, req Request) (*Result, error) {
	return execute(ctx, rt, identification, identity, req)
}

// AssessHealth diagnoses the plant shown in req's images.
func AssessHealth(ctx context.Context, rt *Runtime, identity auth.Identity, req Request) (*Result, error) {
	return execute(ctx, rt, healthAssessment, identity, req)
}

func execute(ctx context.Context, rt *Runtime, f flow, identity auth.Identity, req Request) (*Result, error) {
	result, err := run(ctx, rt, f, identity, req)

	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.WorkflowRuns.WithLabelValues(f.name, outcome).Inc()

	return result, err
}

func run(ctx context.Context, rt *Runtime, f flow, identity auth.Identity, req Request) (_ *Result, err error) {
	logger := rt.logger().With("workflow", f.name)
	start := time.Now()

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

	images, err := req.Validate(rt.Limits)
	if err != nil {
		return nil, err
	}

	input := recognition.Input{
		Images:    make([]string, len(images)),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	for i, img := range images {
		input.Images[i] = img.Encoded()
	}

	assessment, err := recognize(ctx, rt, f, logger, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}

	ranked := recognition.Rank(assessment.Suggestions, f.rank)

	stored, err := persistImages(ctx, rt, f.folder(rt.Folders), owner.ID, images)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	defer stored.release()

	var rec *records.Record
	if ranked.Top != nil {
		rec, err = rt.Records.Upsert(ctx, upsertCommand(f, owner.ID, assessment, ranked, stored.keys))
		if err != nil {
			stored.compensate(ctx, rt, logger)
			return nil, fmt.Errorf("%w: upsert record: %w", ErrPersistFailed, err)
		}
	}

	appendHistory(ctx, rt, logger, history.AppendCommand{
		OwnerID:  owner.ID,
		RecordID: recordID(rec),
		Action:   f.action,
		Metadata: metadata(assessment, ranked, stored.keys),
	})

	logger.InfoContext(ctx, "workflow complete",
		"provider_id", assessment.ProviderID,
		"suggestions", len(ranked.Suggestions),
		"top", topName(ranked.Top),
		"images", len(stored.keys),
		"duration", time.Since(start),
	)

	return &Result{
		ProviderID:   assessment.ProviderID,
		Status:       assessment.Status,
		ModelVersion: assessment.ModelVersion,
		CustomID:     assessment.CustomID,
		IsPlant:      assessment.IsPlant,
		IsHealthy:    assessment.IsHealthy,
		Suggestions:  ranked.Suggestions,
		Top:          ranked.Top,
		Images:       stored.keys,
		Record:       rec,
	}, nil
}

func recognize(
	ctx context.Context,
	rt *Runtime,
	f flow,
	logger *slog.Logger,
	input recognition.Input,
) (*recognition.Assessment, error) {
	call := f.call(rt.Recognition)
	return httpclient.Retry(ctx, retryPolicy(ctx, rt.Retry, f.name, logger), func(ctx context.Context) (*recognition.Assessment, error) {
		return call(ctx, input)
	})
}

func retryPolicy(
	ctx context.Context,
	base httpclient.RetryPolicy,
	operation string,
	logger *slog.Logger,
) httpclient.RetryPolicy {
	p := base
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RecognitionRetries.WithLabelValues(operation).Inc()
		logger.WarnContext(ctx, "retrying recognition call",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if base.OnRetry != nil {
			base.OnRetry(attempt, delay, err)
		}
	}
	return p
}

func upsertCommand(
	f flow,
	ownerID string,
	a *recognition.Assessment,
	ranked recognition.Ranked,
	keys []string,
) records.UpsertCommand {
	cmd := records.UpsertCommand{
		OwnerID:     ownerID,
		Kind:        f.kind,
		Name:        ranked.Top.Name,
		Probability: ranked.Top.Probability,
		Suggestions: ranked.Suggestions,
		Details:     ranked.Top.Details,
		ImageKeys:   keys,
		ProviderID:  a.ProviderID,
	}
	if f.kind == records.KindDiagnosis && a.IsHealthy != nil {
		healthy := a.IsHealthy.Value
		cmd.IsHealthy = &healthy
	}
	return cmd
}

func metadata(a *recognition.Assessment, ranked recognition.Ranked, keys []string) map[string]any {
	m := map[string]any{
		"provider_id":   a.ProviderID,
		"model_version": a.ModelVersion,
		"status":        a.Status,
		"suggestions":   len(ranked.Suggestions),
		"image_keys":    keys,
	}
	if ranked.Top != nil {
		m["top_name"] = ranked.Top.Name
		m["top_probability"] = ranked.Top.Probability
	}
	if a.IsHealthy != nil {
		m["is_healthy"] = a.IsHealthy.Value
	}
	return m
}
