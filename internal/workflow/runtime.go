package workflow

import (
	"context"
	"io"
	"log/slog"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/pkg/httpclient"
)

// CallerValidator resolves a request identity to an owner.
type CallerValidator interface {
	ValidateCaller(ctx context.Context, identity auth.Identity) (*auth.Owner, error)
}

// ImageStore is the subset of storage.System the workflows use.
type ImageStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string)
	LockKeys(keys ...string) (release func())
}

// RecordUpserter merges a workflow result into the owner's records.
type RecordUpserter interface {
	Upsert(ctx context.Context, cmd records.UpsertCommand) (*records.Record, error)
}

// HistoryAppender appends an entry to the owner's history.
type HistoryAppender interface {
	Append(ctx context.Context, cmd history.AppendCommand) (*history.Entry, error)
}

// IdentificationOwner reports whether an owner produced the identification
// a provider id refers to.
type IdentificationOwner interface {
	OwnsIdentification(ctx context.Context, ownerID, providerID string) (bool, error)
}

// Folders names the storage folder for each workflow's images.
type Folders struct {
	Species string
	Health  string
}

// Limits bounds an incoming request.
type Limits struct {
	MaxImages    int
	MaxImageSize int64
}

// Runtime bundles the dependencies the workflows require. It is constructed
// by the API module from infrastructure and domain systems.
type Runtime struct {
	Auth        CallerValidator
	Recognition recognition.Client
	Storage     ImageStore
	Records     RecordUpserter
	History     HistoryAppender
	Owners      IdentificationOwner
	Retry       httpclient.RetryPolicy
	Folders     Folders
	Limits      Limits
	Logger      *slog.Logger
}

func (rt *Runtime) logger() *slog.Logger {
	if rt.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rt.Logger
}
