// Package draft persists the in-progress incident record between visits.
//
// Only metadata is stored. Evidence bytes live in the blob store and are
// referenced by key from the record's evidence list.
package draft

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
)

// Version is the envelope version written by this build. Envelopes with any
// other version are treated as absent.
const Version = 1

// Draft is a persisted wizard snapshot.
type Draft struct {
	Version int                   `json:"version"`
	Step    domain.Step           `json:"step"`
	SavedAt time.Time             `json:"savedAt"`
	Record  domain.IncidentRecord `json:"record"`
}

// Store defines the lightweight record persistence layer.
type Store interface {
	// Load returns the saved draft, or nil when there is none. Malformed or
	// version-mismatched data is discarded and also reported as nil.
	Load(ctx context.Context, sessionID uuid.UUID) (*Draft, error)

	// Save writes the record and step. Transient evidence payloads are
	// stripped before writing.
	Save(ctx context.Context, sessionID uuid.UUID, rec domain.IncidentRecord, step domain.Step) error

	// Clear removes the draft. Clearing a missing draft is not an error.
	Clear(ctx context.Context, sessionID uuid.UUID) error
}
