package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/pkg/pagination"
	"github.com/JaimeStill/arbor/pkg/query"
	"github.com/JaimeStill/arbor/pkg/repository"
)

type repo struct {
	db         *sql.DB
	auth       auth.Validator
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a history repository implementing the System interface.
func New(
	db *sql.DB,
	auth auth.Validator,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		auth:       auth,
		logger:     logger.With("system", "history"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.auth, r.logger, r.pagination)
}

var appendQ = `
	INSERT INTO history(owner_id, record_id, action, metadata)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + projection.Returning()

func (r *repo) Append(ctx context.Context, cmd AppendCommand) (*Entry, error) {
	if cmd.OwnerID == "" || cmd.Action == "" {
		return nil, fmt.Errorf("%w: owner and action required", ErrInvalidEntry)
	}

	metadata := cmd.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	args := []any{cmd.OwnerID, cmd.RecordID, cmd.Action, raw}

	e, err := repository.QueryOne(ctx, r.db, appendQ, args, scanEntry)
	if err != nil {
		return nil, dbErrors.Map(err)
	}

	r.logger.DebugContext(ctx, "history appended",
		"id", e.ID,
		"owner_id", e.OwnerID,
		"action", e.Action,
	)
	return &e, nil
}

var ownsIdentificationQ = `
	SELECT EXISTS (
		SELECT 1 FROM history
		WHERE owner_id = $1 AND action = $2 AND metadata->>'provider_id' = $3
	)`

func (r *repo) OwnsIdentification(ctx context.Context, ownerID, providerID string) (bool, error) {
	if ownerID == "" || providerID == "" {
		return false, nil
	}

	owned, err := repository.QueryValue[bool](
		ctx, r.db, ownsIdentificationQ,
		ownerID, ActionIdentification, providerID,
	)
	if err != nil {
		return false, fmt.Errorf("check identification owner: %w", err)
	}
	return owned, nil
}

func (r *repo) List(
	ctx context.Context,
	ownerID string,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Entry], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("OwnerID", ownerID).
		WhereSearch(page.Search, "Action")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryValue[int](ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}
