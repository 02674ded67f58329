package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/pkg/handlers"
	"github.com/JaimeStill/arbor/pkg/routes"
)

// IdentityFunc extracts the caller credential from a request.
type IdentityFunc func(r *http.Request) auth.Identity

// Handler exposes the workflows over HTTP.
type Handler struct {
	rt       *Runtime
	identity IdentityFunc
	logger   *slog.Logger
	maxBody  int64
}

// NewHandler creates a Handler. maxBody bounds the request body size.
func NewHandler(rt *Runtime, identity IdentityFunc, logger *slog.Logger, maxBody int64) *Handler {
	return &Handler{
		rt:       rt,
		identity: identity,
		logger:   logger.With("handler", "workflow"),
		maxBody:  maxBody,
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/identifications", Handler: h.Identify},
			{Method: "POST", Pattern: "/identifications/{id}/conversation", Handler: h.Converse},
			{Method: "POST", Pattern: "/health-assessments", Handler: h.AssessHealth},
		},
	}
}

func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, identification.name, Identify)
}

func (h *Handler) AssessHealth(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, healthAssessment.name, AssessHealth)
}

// Converse answers a follow-up question about a prior identification.
func (h *Handler) Converse(w http.ResponseWriter, r *http.Request) {
	var q Question
	if !h.decode(w, r, conversation, &q) {
		return
	}

	conv, err := Converse(r.Context(), h.rt, h.identity(r), r.PathValue("id"), q)
	if err != nil {
		h.fail(w, r, conversation, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, conv)
}

type workflowFunc func(ctx context.Context, rt *Runtime, identity auth.Identity, req Request) (*Result, error)

func (h *Handler) run(w http.ResponseWriter, r *http.Request, action string, fn workflowFunc) {
	var req Request
	if !h.decode(w, r, action, &req) {
		return
	}

	result, err := fn(r.Context(), h.rt, h.identity(r), req)
	if err != nil {
		h.fail(w, r, action, err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, action string, v any) bool {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "decode request failed", "action", action, "error", err)
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidRequest)
		return false
	}
	return true
}

// fail responds with the public sentinel only. The workflow has already
// logged the underlying error with the owner attached.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := MapHTTPStatus(err)
	h.logger.DebugContext(r.Context(), "responding with failure", "action", action, "status", status)
	handlers.RespondError(w, h.logger, status, Public(err))
}
