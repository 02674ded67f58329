package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/pkg/handlers"
	"github.com/JaimeStill/arbor/pkg/routes"
	"github.com/JaimeStill/arbor/pkg/storage"
)

// ImageReader is the subset of storage.System the image handler uses.
type ImageReader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

type imageHandler struct {
	store  ImageReader
	auth   auth.Validator
	logger *slog.Logger
}

func newImageHandler(store ImageReader, validator auth.Validator, logger *slog.Logger) *imageHandler {
	return &imageHandler{
		store:  store,
		auth:   validator,
		logger: logger.With("handler", "images"),
	}
}

func (h *imageHandler) routes() routes.Group {
	return routes.Group{
		Prefix:     "/images",
		Middleware: []func(http.Handler) http.Handler{privateCache(imageMaxAge)},
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{key...}", Handler: h.download},
		},
	}
}

// download streams a stored image. Keys are folder/owner/name, and only the
// owning caller may read them.
func (h *imageHandler) download(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.Caller(h.auth, r)
	if err != nil {
		handlers.RespondError(w, h.logger, auth.MapHTTPStatus(err), auth.ErrUnauthorized)
		return
	}

	key := r.PathValue("key")
	if !ownsKey(owner.ID, key) {
		handlers.RespondError(w, h.logger, http.StatusNotFound, storage.ErrNotFound)
		return
	}

	body, err := h.store.Download(r.Context(), key)
	if err != nil {
		status := storage.MapHTTPStatus(err)
		if status == http.StatusInternalServerError {
			err = errors.New("image download failed")
		}
		handlers.RespondError(w, h.logger, status, err)
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, errors.New("image download failed"))
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(data))
}

const imageMaxAge = 300

// privateCache marks responses cacheable by the requesting client only.
func privateCache(maxAge int) func(http.Handler) http.Handler {
	value := "private, max-age=" + strconv.Itoa(maxAge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}

func ownsKey(ownerID, key string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 3 && parts[1] == storage.OwnerSegment(ownerID)
}
