// Package history stores the append-only log of an owner's interactions.
// Entries are never updated or deleted.
package history

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the workflows.
const (
	ActionIdentification   = "identification.completed"
	ActionHealthAssessment = "health_assessment.completed"
	ActionConversation     = "identification.conversation"
)

// Entry is a single immutable history item.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	OwnerID   string         `json:"owner_id"`
	RecordID  *uuid.UUID     `json:"record_id,omitempty"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// AppendCommand describes an entry to append.
type AppendCommand struct {
	OwnerID  string
	RecordID *uuid.UUID
	Action   string
	Metadata map[string]any
}
