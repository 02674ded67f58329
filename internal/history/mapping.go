package history

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/pkg/query"
	"github.com/JaimeStill/arbor/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "history", "h").
	Project("id", "ID").
	Project("owner_id", "OwnerID").
	Project("record_id", "RecordID").
	Project("action", "Action").
	Project("metadata", "Metadata").
	Project("created_at", "CreatedAt")

var dbErrors = repository.Errors{
	NotFound:  ErrNotFound,
	Duplicate: ErrDuplicate,
	Invalid:   ErrInvalidEntry,
}

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for history queries.
type Filters struct {
	Action   *string    `json:"action,omitempty"`
	RecordID *uuid.UUID `json:"record_id,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Action", f.Action).
		WhereEquals("RecordID", f.RecordID).
		WhereRange("CreatedAt", f.Since, f.Until)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if a := values.Get("action"); a != "" {
		f.Action = &a
	}

	if r := values.Get("record_id"); r != "" {
		if id, err := uuid.Parse(r); err == nil {
			f.RecordID = &id
		}
	}

	f.Since = parseTime(values.Get("since"))
	f.Until = parseTime(values.Get("until"))

	return f
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func scanEntry(s repository.Scanner) (Entry, error) {
	var e Entry
	var metadata []byte

	err := s.Scan(
		&e.ID,
		&e.OwnerID,
		&e.RecordID,
		&e.Action,
		&metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return e, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return e, nil
}
