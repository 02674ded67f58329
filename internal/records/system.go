package records

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/pkg/pagination"
)

// System defines the public contract for record operations. Every read and
// delete is scoped to ownerID.
type System interface {
	Handler() *Handler

	Upsert(ctx context.Context, cmd UpsertCommand) (*Record, error)

	List(
		ctx context.Context,
		ownerID string,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Record], error)

	Find(ctx context.Context, ownerID string, id uuid.UUID) (*Record, error)
	Images(ctx context.Context, ownerID string, id uuid.UUID) ([]Image, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}
