package routes_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/arbor/pkg/routes"
)

func TestRegisterHandlers(t *testing.T) {
	mux := http.NewServeMux()

	routes.Register(mux, routes.Group{
		Prefix: "/records",
		Routes: []routes.Route{
			{
				Method:  "GET",
				Pattern: "",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				},
			},
			{
				Method:  "GET",
				Pattern: "/{id}",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				},
			},
		},
	})

	tests := []struct {
		name   string
		method string
		path   string
		wantOK bool
	}{
		{"list records", "GET", "/records", true},
		{"find record", "GET", "/records/6f1c2a0e-5b3d-4c8e-9f7a-1d2e3f4a5b6c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			mux.ServeHTTP(rec, req)

			if tt.wantOK && rec.Code != http.StatusOK {
				t.Errorf("status: got %d, want 200", rec.Code)
			}
		})
	}
}

func TestNestedGroups(t *testing.T) {
	mux := http.NewServeMux()

	routes.Register(mux, routes.Group{
		Prefix: "/api",
		Children: []routes.Group{
			{
				Prefix: "/v1",
				Routes: []routes.Route{
					{
						Method:  "GET",
						Pattern: "/records",
						Handler: func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(http.StatusOK)
						},
					},
				},
			},
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/records", nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("nested route: got %d, want 200", rec.Code)
	}
}

func header(key, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add(key, value)
			next.ServeHTTP(w, r)
		})
	}
}

func TestGroupMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) {}

	routes.Register(mux, routes.Group{
		Prefix:     "/images",
		Middleware: []func(http.Handler) http.Handler{header("X-Trace", "group")},
		Routes: []routes.Route{
			{
				Method:     "GET",
				Pattern:    "/{key...}",
				Handler:    ok,
				Middleware: []func(http.Handler) http.Handler{header("X-Trace", "route")},
			},
		},
		Children: []routes.Group{
			{
				Prefix:     "/meta",
				Middleware: []func(http.Handler) http.Handler{header("X-Trace", "child")},
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: ok},
				},
			},
		},
	}, routes.Group{
		Prefix: "/history",
		Routes: []routes.Route{{Method: "GET", Pattern: "", Handler: ok}},
	})

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"group then route", "/images/species/u1/a.jpg", []string{"group", "route"}},
		{"inherited by child", "/images/meta", []string{"group", "child"}},
		{"sibling group unaffected", "/history", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			got := rec.Header().Values("X-Trace")
			if len(got) != len(tt.want) {
				t.Fatalf("X-Trace: got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("X-Trace[%d]: got %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}
