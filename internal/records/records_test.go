package records_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/pkg/pagination"
	"github.com/JaimeStill/arbor/pkg/query"
)

func ptr[T any](v T) *T { return &v }

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", records.ErrNotFound, http.StatusNotFound},
		{"duplicate", records.ErrDuplicate, http.StatusConflict},
		{"invalid record", records.ErrInvalidRecord, http.StatusBadRequest},
		{"unknown error", errors.New("something else"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("find failed: %w", records.ErrNotFound), http.StatusNotFound},
		{"wrapped invalid", fmt.Errorf("upsert: %w", records.ErrInvalidRecord), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := records.MapHTTPStatus(tt.err)
			if got != tt.want {
				t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNameKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lower-cases", "Taraxacum Officinale", "taraxacum officinale"},
		{"trims", "  Ficus lyrata ", "ficus lyrata"},
		{"collapses whitespace", "Monstera \t  deliciosa", "monstera deliciosa"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := records.NameKey(tt.in); got != tt.want {
				t.Errorf("NameKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNameKeyMergesVariants(t *testing.T) {
	if records.NameKey("Water excess") != records.NameKey(" water  EXCESS") {
		t.Error("name variants should share a key")
	}
}

func TestKindValid(t *testing.T) {
	if !records.KindSpecies.Valid() || !records.KindDiagnosis.Valid() {
		t.Error("known kinds should be valid")
	}
	if records.Kind("mineral").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestFiltersFromQuery(t *testing.T) {
	t.Run("all params present", func(t *testing.T) {
		f := records.FiltersFromQuery(url.Values{
			"kind":       {"diagnosis"},
			"is_healthy": {"false"},
		})

		if f.Kind == nil || *f.Kind != "diagnosis" {
			t.Errorf("Kind = %v, want diagnosis", f.Kind)
		}
		if f.IsHealthy == nil || *f.IsHealthy {
			t.Errorf("IsHealthy = %v, want false", f.IsHealthy)
		}
	})

	t.Run("empty params yield nil fields", func(t *testing.T) {
		f := records.FiltersFromQuery(url.Values{})

		if f.Kind != nil {
			t.Errorf("Kind = %v, want nil", f.Kind)
		}
		if f.IsHealthy != nil {
			t.Errorf("IsHealthy = %v, want nil", f.IsHealthy)
		}
	})

	t.Run("invalid is_healthy ignored", func(t *testing.T) {
		f := records.FiltersFromQuery(url.Values{"is_healthy": {"maybe"}})

		if f.IsHealthy != nil {
			t.Errorf("IsHealthy = %v, want nil", f.IsHealthy)
		}
	})
}

func TestFiltersApply(t *testing.T) {
	proj := query.
		NewProjectionMap("public", "records", "r").
		Project("kind", "Kind").
		Project("is_healthy", "IsHealthy")

	t.Run("no filters produces no WHERE clause", func(t *testing.T) {
		b := query.NewBuilder(proj)
		records.Filters{}.Apply(b)
		sql, args := b.Build()

		wantSQL := "SELECT r.kind, r.is_healthy FROM public.records r"
		if sql != wantSQL {
			t.Errorf("sql = %q, want %q", sql, wantSQL)
		}
		if len(args) != 0 {
			t.Errorf("args = %v, want empty", args)
		}
	})

	t.Run("multiple filters combine with AND", func(t *testing.T) {
		b := query.NewBuilder(proj)
		records.Filters{Kind: ptr("species"), IsHealthy: ptr(true)}.Apply(b)
		sql, args := b.Build()

		wantSQL := "SELECT r.kind, r.is_healthy FROM public.records r WHERE r.kind = $1 AND r.is_healthy = $2"
		if sql != wantSQL {
			t.Errorf("sql = %q, want %q", sql, wantSQL)
		}
		if len(args) != 2 {
			t.Errorf("args length = %d, want 2", len(args))
		}
	})
}

func TestUpsertRejectsInvalidCommands(t *testing.T) {
	sys := records.New(
		nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
	)

	tests := []struct {
		name string
		cmd  records.UpsertCommand
	}{
		{"missing owner", records.UpsertCommand{Kind: records.KindSpecies, Name: "Ficus"}},
		{"unknown kind", records.UpsertCommand{OwnerID: "u1", Kind: "mineral", Name: "Ficus"}},
		{"blank name", records.UpsertCommand{OwnerID: "u1", Kind: records.KindSpecies, Name: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sys.Upsert(context.Background(), tt.cmd)
			if !errors.Is(err, records.ErrInvalidRecord) {
				t.Errorf("Upsert() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}
