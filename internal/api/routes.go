package api

import (
	"net/http"

	"github.com/JaimeStill/arbor/internal/config"
	"github.com/JaimeStill/arbor/internal/workflow"
	"github.com/JaimeStill/arbor/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	workflowHandler := workflow.NewHandler(
		domain.Workflow,
		runtime.Auth.Identity,
		runtime.Logger,
		cfg.API.MaxUploadSizeBytes(),
	)

	images := newImageHandler(runtime.Storage, runtime.Auth, runtime.Logger)

	routes.Register(
		mux,
		workflowHandler.Routes(),
		domain.Records.Handler().Routes(),
		domain.History.Handler().Routes(),
		images.routes(),
	)
}
