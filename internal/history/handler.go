package history

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/pkg/handlers"
	"github.com/JaimeStill/arbor/pkg/pagination"
	"github.com/JaimeStill/arbor/pkg/routes"
)

// Handler provides HTTP endpoints for reading the caller's history.
type Handler struct {
	sys        System
	auth       auth.Validator
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

func NewHandler(
	sys System,
	validator auth.Validator,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		sys:        sys,
		auth:       validator,
		logger:     logger.With("handler", "history"),
		pagination: pagination,
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/history",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
		},
	}
}

// List returns the caller's entries, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.Caller(h.auth, r)
	if err != nil {
		handlers.RespondError(w, h.logger, auth.MapHTTPStatus(err), auth.ErrUnauthorized)
		return
	}

	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), owner.ID, page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.Caller(h.auth, r)
	if err != nil {
		handlers.RespondError(w, h.logger, auth.MapHTTPStatus(err), auth.ErrUnauthorized)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), owner.ID, req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}
