package history

import (
	"context"

	"github.com/JaimeStill/arbor/pkg/pagination"
)

// System defines the public contract for history operations.
type System interface {
	Handler() *Handler

	Append(ctx context.Context, cmd AppendCommand) (*Entry, error)

	// OwnsIdentification reports whether ownerID has an identification
	// entry for providerID.
	OwnsIdentification(ctx context.Context, ownerID, providerID string) (bool, error)

	List(
		ctx context.Context,
		ownerID string,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Entry], error)
}
