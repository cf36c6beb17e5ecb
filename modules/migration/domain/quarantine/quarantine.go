package quarantine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

var ErrNotFound = errors.New("quarantine entry not found")

type Status string

const (
	StatusQuarantined Status = "quarantined"
	StatusResolved    Status = "resolved"
)

// Entry holds a terminally-failed record with enough context to replay it
// without redoing extraction or transform. Entries are never deleted
// automatically; a successful replay flips Status to resolved.
type Entry struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	EntityType   string
	Key          lineage.Key
	RecordData   map[string]any
	FailureStage string
	ErrorClass   plan.ErrorClass
	ErrorCode    string
	// ErrorHash fingerprints the failure content, so operators can tell
	// whether a replay would hit the identical failure.
	ErrorHash  string
	Status     Status
	CreatedAt  time.Time
	ResolvedAt time.Time
}

type Repository interface {
	// Upsert inserts the entry, or refreshes failure details if one already
	// exists for the same (JobID, EntityType, Key).
	Upsert(ctx context.Context, e Entry) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	ListOpen(ctx context.Context, jobID uuid.UUID, entityType string, limit int) ([]Entry, error)
}
