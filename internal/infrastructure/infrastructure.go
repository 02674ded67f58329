// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, caller
// validation, and the recognition client) that domain systems require.
package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/config"
	"github.com/JaimeStill/arbor/internal/metrics"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/pkg/database"
	"github.com/JaimeStill/arbor/pkg/httpclient"
	"github.com/JaimeStill/arbor/pkg/lifecycle"
	"github.com/JaimeStill/arbor/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
type Infrastructure struct {
	Lifecycle   *lifecycle.Coordinator
	Logger      *slog.Logger
	Database    database.System
	Storage     storage.System
	Auth        auth.Validator
	Recognition recognition.Client
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
// OIDC discovery runs here, so ctx bounds the issuer lookup.
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := NewLogger(os.Stderr, &cfg.Logging)

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	validator, err := auth.New(ctx, &cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}

	client, err := recognition.New(
		&cfg.Recognition,
		logger,
		httpclient.WithObserver(metrics.Observe),
	)
	if err != nil {
		return nil, fmt.Errorf("recognition init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle:   lc,
		Logger:      logger,
		Database:    db,
		Storage:     store,
		Auth:        validator,
		Recognition: client,
	}, nil
}

// NewLogger builds the process logger for the configured format and level.
func NewLogger(w io.Writer, cfg *config.LoggingConfig) *slog.Logger {
	level := cfg.SlogLevel()

	switch cfg.Format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogFormatTint:
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// Database and storage hooks are registered for startup and shutdown coordination.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	return nil
}
