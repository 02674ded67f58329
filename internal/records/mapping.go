package records

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/JaimeStill/arbor/pkg/query"
	"github.com/JaimeStill/arbor/pkg/repository"
)

var dbErrors = repository.Errors{
	NotFound:  ErrNotFound,
	Duplicate: ErrDuplicate,
	Invalid:   ErrInvalidRecord,
}

var projection = query.
	NewProjectionMap("public", "records", "r").
	Project("id", "ID").
	Project("owner_id", "OwnerID").
	Project("kind", "Kind").
	Project("name", "Name").
	Project("name_key", "NameKey").
	Project("probability", "Probability").
	Project("suggestions", "Suggestions").
	Project("details", "Details").
	Project("image_keys", "ImageKeys").
	Project("is_healthy", "IsHealthy").
	Project("provider_id", "ProviderID").
	Project("detections", "Detections").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "UpdatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for record queries.
type Filters struct {
	Kind      *string `json:"kind,omitempty"`
	IsHealthy *bool   `json:"is_healthy,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Kind", f.Kind).
		WhereEquals("IsHealthy", f.IsHealthy)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if k := values.Get("kind"); k != "" {
		f.Kind = &k
	}

	switch values.Get("is_healthy") {
	case "true":
		v := true
		f.IsHealthy = &v
	case "false":
		v := false
		f.IsHealthy = &v
	}

	return f
}

func scanRecord(s repository.Scanner) (Record, error) {
	var r Record
	var kind string
	var suggestionsRaw, detailsRaw, imagesRaw []byte

	err := s.Scan(
		&r.ID,
		&r.OwnerID,
		&kind,
		&r.Name,
		&r.NameKey,
		&r.Probability,
		&suggestionsRaw,
		&detailsRaw,
		&imagesRaw,
		&r.IsHealthy,
		&r.ProviderID,
		&r.Detections,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}

	r.Kind = Kind(kind)

	if err := unmarshalJSON(suggestionsRaw, &r.Suggestions); err != nil {
		return r, fmt.Errorf("unmarshal suggestions: %w", err)
	}
	if err := unmarshalJSON(detailsRaw, &r.Details); err != nil {
		return r, fmt.Errorf("unmarshal details: %w", err)
	}
	if err := unmarshalJSON(imagesRaw, &r.ImageKeys); err != nil {
		return r, fmt.Errorf("unmarshal image_keys: %w", err)
	}

	if r.ImageKeys == nil {
		r.ImageKeys = []string{}
	}

	return r, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
