package workflow_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/workflow"
	"github.com/JaimeStill/arbor/pkg/httpclient"
)

func setupMux(h *workflow.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		pattern := route.Method + " " + group.Prefix + route.Pattern
		mux.HandleFunc(pattern, route.Handler)
	}
	return mux
}

func newTestHandler(f *fixture) *workflow.Handler {
	return workflow.NewHandler(
		f.rt,
		auth.NewHeaderValidator("X-Owner-Id").Identity,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		1<<20,
	)
}

func post(mux *http.ServeMux, path string, body any, owner string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestHandlerIdentify(t *testing.T) {
	f := newFixture()
	mux := setupMux(newTestHandler(f))

	rec := post(mux, "/identifications", workflow.Request{Images: []string{encoded(pngData)}}, "owner-1")

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var result workflow.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Top == nil || result.Top.Name != "Taraxacum officinale" {
		t.Errorf("top = %+v", result.Top)
	}
	if result.Record == nil || result.Record.OwnerID != "owner-1" {
		t.Errorf("record = %+v", result.Record)
	}
}

func TestHandlerAssessHealth(t *testing.T) {
	f := newFixture()
	mux := setupMux(newTestHandler(f))

	rec := post(mux, "/health-assessments", workflow.Request{Images: []string{encoded(pngData)}}, "owner-1")

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
}

func TestHandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		owner   string
		fail    error
		status  int
		message string
	}{
		{
			name:    "anonymous",
			body:    workflow.Request{Images: []string{encoded(pngData)}},
			status:  http.StatusUnauthorized,
			message: "unauthorized",
		},
		{
			name:    "empty images",
			body:    workflow.Request{},
			owner:   "owner-1",
			status:  http.StatusBadRequest,
			message: "invalid request",
		},
		{
			name:    "malformed body",
			body:    "not an object",
			owner:   "owner-1",
			status:  http.StatusBadRequest,
			message: "invalid request",
		},
		{
			name:    "provider down",
			body:    workflow.Request{Images: []string{encoded(pngData)}},
			owner:   "owner-1",
			fail:    &httpclient.ResponseError{StatusCode: http.StatusBadGateway, URL: "https://plant.id/secret-path"},
			status:  http.StatusBadGateway,
			message: "recognition failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.fail != nil {
				f.recognition.identifyFn = func(recognition.Input) (*recognition.Assessment, error) {
					return nil, tt.fail
				}
			}
			mux := setupMux(newTestHandler(f))

			rec := post(mux, "/identifications", tt.body, tt.owner)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := errorMessage(t, rec); got != tt.message {
				t.Errorf("error = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestHandlerPersistFailureHidesDetail(t *testing.T) {
	f := newFixture()
	f.records.err = errors.New("pq: relation records does not exist")
	mux := setupMux(newTestHandler(f))

	rec := post(mux, "/identifications", workflow.Request{Images: []string{encoded(pngData)}}, "owner-1")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := errorMessage(t, rec); got != "persist failed" {
		t.Errorf("error = %q, want persist failed", got)
	}
}

func TestHandlerConverse(t *testing.T) {
	f := newFixture()
	f.history.seed("owner-1", "tok-123")
	f.recognition.converseFn = func(providerID, _ string) (*recognition.Conversation, error) {
		return &recognition.Conversation{
			ProviderID: providerID,
			Messages:   []recognition.Message{{Type: "answer", Content: "Water weekly."}},
		}, nil
	}
	mux := setupMux(newTestHandler(f))

	rec := post(mux, "/identifications/tok-123/conversation", workflow.Question{Question: "How often to water?"}, "owner-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var conv recognition.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.ProviderID != "tok-123" || conv.Answer() != "Water weekly." {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestHandlerConverseForeignIdentification(t *testing.T) {
	f := newFixture()
	f.history.seed("owner-1", "tok-123")
	mux := setupMux(newTestHandler(f))

	rec := post(mux, "/identifications/tok-123/conversation", workflow.Question{Question: "Is it edible?"}, "owner-2")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if f.recognition.Calls() != 0 {
		t.Errorf("recognition calls = %d, want 0", f.recognition.Calls())
	}
}
