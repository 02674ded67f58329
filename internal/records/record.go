// Package records persists the plants and diagnoses an owner has
// identified. A record is unique per owner, kind, and normalized name, so
// repeated identifications of the same plant merge into one record.
package records

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/internal/recognition"
)

// Kind distinguishes species identifications from health diagnoses.
type Kind string

const (
	KindSpecies   Kind = "species"
	KindDiagnosis Kind = "diagnosis"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindSpecies || k == KindDiagnosis
}

// Record is a stored identification or diagnosis for one owner.
type Record struct {
	ID          uuid.UUID                `json:"id"`
	OwnerID     string                   `json:"owner_id"`
	Kind        Kind                     `json:"kind"`
	Name        string                   `json:"name"`
	NameKey     string                   `json:"name_key"`
	Probability float64                  `json:"probability"`
	Suggestions []recognition.Suggestion `json:"suggestions"`
	Details     map[string]any           `json:"details"`
	ImageKeys   []string                 `json:"image_keys"`
	IsHealthy   *bool                    `json:"is_healthy"`
	ProviderID  *string                  `json:"provider_id"`
	Detections  int                      `json:"detections"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// UpsertCommand carries the result of a workflow run. Suggestions, Details,
// and Probability replace stored values; ImageKeys are unioned.
type UpsertCommand struct {
	OwnerID     string
	Kind        Kind
	Name        string
	Probability float64
	Suggestions []recognition.Suggestion
	Details     map[string]any
	ImageKeys   []string
	IsHealthy   *bool
	ProviderID  string
}

// Image is a stored image with a time-limited read URL.
type Image struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// NameKey derives the merge key for a record name: trimmed, inner
// whitespace collapsed, lower-cased.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
