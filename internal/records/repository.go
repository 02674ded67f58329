package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/pkg/pagination"
	"github.com/JaimeStill/arbor/pkg/query"
	"github.com/JaimeStill/arbor/pkg/repository"
	"github.com/JaimeStill/arbor/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	auth       auth.Validator
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a record repository implementing the System interface.
func New(
	db *sql.DB,
	storage storage.System,
	auth auth.Validator,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    storage,
		auth:       auth,
		logger:     logger.With("system", "records"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.auth, r.logger, r.pagination)
}

var upsertQ = `
	INSERT INTO records(
		owner_id, kind, name, name_key, probability, suggestions,
		details, image_keys, is_healthy, provider_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (owner_id, kind, name_key) DO UPDATE SET
		name = EXCLUDED.name,
		probability = EXCLUDED.probability,
		suggestions = EXCLUDED.suggestions,
		details = EXCLUDED.details,
		image_keys = (
			SELECT COALESCE(jsonb_agg(DISTINCT k ORDER BY k), '[]'::jsonb)
			FROM jsonb_array_elements_text(records.image_keys || EXCLUDED.image_keys) AS k
		),
		is_healthy = EXCLUDED.is_healthy,
		provider_id = EXCLUDED.provider_id,
		detections = records.detections + 1,
		updated_at = NOW()
	RETURNING ` + projection.Returning()

func (r *repo) Upsert(ctx context.Context, cmd UpsertCommand) (*Record, error) {
	args, err := upsertArgs(cmd)
	if err != nil {
		return nil, err
	}

	rec, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		return repository.QueryOne(ctx, tx, upsertQ, args, scanRecord)
	})
	if err != nil {
		return nil, dbErrors.Map(err)
	}

	r.logger.InfoContext(ctx, "record upserted",
		"id", rec.ID,
		"owner_id", rec.OwnerID,
		"kind", rec.Kind,
		"name", rec.Name,
		"detections", rec.Detections,
	)
	return &rec, nil
}

func upsertArgs(cmd UpsertCommand) ([]any, error) {
	key := NameKey(cmd.Name)

	if cmd.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidRecord)
	}
	if !cmd.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, cmd.Kind)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidRecord)
	}

	suggestions, err := json.Marshal(nonNil(cmd.Suggestions))
	if err != nil {
		return nil, fmt.Errorf("marshal suggestions: %w", err)
	}

	details := cmd.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}

	images, err := json.Marshal(nonNil(cmd.ImageKeys))
	if err != nil {
		return nil, fmt.Errorf("marshal image keys: %w", err)
	}

	var providerID *string
	if cmd.ProviderID != "" {
		providerID = &cmd.ProviderID
	}

	return []any{
		cmd.OwnerID,
		string(cmd.Kind),
		cmd.Name,
		key,
		cmd.Probability,
		suggestions,
		detailsJSON,
		images,
		cmd.IsHealthy,
		providerID,
	}, nil
}

func (r *repo) List(
	ctx context.Context,
	ownerID string,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Record], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("OwnerID", ownerID).
		WhereSearch(page.Search, "Name")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryValue[int](ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, ownerID string, id uuid.UUID) (*Record, error) {
	q, args := query.
		NewBuilder(projection).
		WhereEquals("ID", id).
		WhereEquals("OwnerID", ownerID).
		BuildSingleOrNull()

	rec, err := repository.QueryOne(ctx, r.db, q, args, scanRecord)
	if err != nil {
		return nil, dbErrors.Map(err)
	}
	return &rec, nil
}

func (r *repo) Images(ctx context.Context, ownerID string, id uuid.UUID) ([]Image, error) {
	rec, err := r.Find(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(rec.ImageKeys))
	for _, key := range rec.ImageKeys {
		u, err := r.storage.SignedURL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("sign image %s: %w", key, err)
		}
		images = append(images, Image{Key: key, URL: u})
	}
	return images, nil
}

const deleteQ = `
	DELETE FROM records
	WHERE id = $1 AND owner_id = $2
	RETURNING image_keys`

const referencedQ = `
	SELECT EXISTS(
		SELECT 1 FROM records
		WHERE owner_id = $1 AND image_keys @> jsonb_build_array($2::text)
	)`

// Delete removes the record, then deletes each of its images that no other
// record of the same owner still references. Candidates are re-checked under
// the storage key locks, so a workflow that reused a key while the record
// was being removed keeps its image. Image deletes are best-effort.
func (r *repo) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	orphans, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) ([]string, error) {
		raw, err := repository.QueryValue[[]byte](ctx, tx, deleteQ, id, ownerID)
		if err != nil {
			return nil, err
		}

		var keys []string
		if err := unmarshalJSON(raw, &keys); err != nil {
			return nil, fmt.Errorf("unmarshal image_keys: %w", err)
		}

		orphans := make([]string, 0, len(keys))
		for _, key := range keys {
			referenced, err := repository.QueryValue[bool](ctx, tx, referencedQ, ownerID, key)
			if err != nil {
				return nil, fmt.Errorf("check image references: %w", err)
			}
			if !referenced {
				orphans = append(orphans, key)
			}
		}
		return orphans, nil
	})

	if err != nil {
		return dbErrors.Map(err)
	}

	deleted := r.deleteOrphans(ctx, ownerID, orphans)

	r.logger.InfoContext(ctx, "record deleted",
		"id", id,
		"owner_id", ownerID,
		"images_deleted", deleted,
	)
	return nil
}

func (r *repo) deleteOrphans(ctx context.Context, ownerID string, keys []string) int {
	if len(keys) == 0 {
		return 0
	}

	release := r.storage.LockKeys(keys...)
	defer release()

	deleted := 0
	for _, key := range keys {
		referenced, err := repository.QueryValue[bool](ctx, r.db, referencedQ, ownerID, key)
		if err != nil {
			r.logger.WarnContext(ctx, "image reference check failed", "key", key, "error", err)
			continue
		}
		if referenced {
			continue
		}
		r.storage.Delete(ctx, key)
		deleted++
	}
	return deleted
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
