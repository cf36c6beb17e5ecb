package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the minimal durable state needed to resume a batch without
// reprocessing already-loaded actions. LoadedUpTo is an index into the plan
// identified by PlanFingerprint; it is meaningless for any other plan.
type Checkpoint struct {
	JobID            uuid.UUID
	EntityType       string
	Cursor           string
	BatchIndex       int
	LoadedUpTo       int
	TransformVersion string
	PlanFingerprint  string
	UpdatedAt        time.Time
}

// Matches reports whether the stored progress can be trusted for a plan with
// the given transform version and fingerprint.
func (c Checkpoint) Matches(transformVersion, planFingerprint string) bool {
	return c.TransformVersion == transformVersion && c.PlanFingerprint == planFingerprint
}

type Repository interface {
	// Save upserts the checkpoint keyed by (JobID, EntityType). Retrying a
	// save after a crash is always safe.
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, jobID uuid.UUID, entityType string) (Checkpoint, error)
}
