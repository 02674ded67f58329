package api

import (
	"github.com/JaimeStill/arbor/internal/config"
	"github.com/JaimeStill/arbor/internal/infrastructure"
	"github.com/JaimeStill/arbor/pkg/httpclient"
	"github.com/JaimeStill/arbor/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination pagination.Config
	Retry      httpclient.RetryPolicy
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle:   infra.Lifecycle,
			Logger:      infra.Logger.With("module", "api"),
			Database:    infra.Database,
			Storage:     infra.Storage,
			Auth:        infra.Auth,
			Recognition: infra.Recognition,
		},
		Pagination: cfg.API.Pagination,
		Retry:      cfg.Recognition.RetryPolicy(),
	}
}
