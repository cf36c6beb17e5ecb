// Package audit holds the append-only evidence trail of automated planning
// and load decisions: merge explanations, manual-review rows, and
// pre-mutation snapshots.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

type Decision string

const (
	DecisionMerged       Decision = "merged"
	DecisionManualReview Decision = "manual_review"
	DecisionCreatedNew   Decision = "created_new"
)

// MergeExplanation records one planning decision that involved a conflict,
// with its full scoring evidence.
type MergeExplanation struct {
	JobID      uuid.UUID
	EntityType string
	LegacyID   string
	TargetID   string
	Decision   Decision
	ScoreTotal float64
	Reasons    []string
	CreatedAt  time.Time
}

// ConflictReview is a durable manual-review item carrying the full candidate
// list. Manual actions never touch target storage.
type ConflictReview struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	EntityType string
	LegacyID   string
	Candidates []plan.Match
	RecordData map[string]any
	CreatedAt  time.Time
}

// Snapshot captures pre-mutation target state before an update or merge,
// together with the JSON patch the mutation is about to apply.
type Snapshot struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	EntityType string
	TargetID   string
	LegacyID   string
	State      json.RawMessage
	Patch      json.RawMessage
	CreatedAt  time.Time
}

type ExplanationRepository interface {
	Append(ctx context.Context, e MergeExplanation) error
	ListByJob(ctx context.Context, jobID uuid.UUID, entityType string) ([]MergeExplanation, error)
}

type ReviewRepository interface {
	Save(ctx context.Context, r ConflictReview) (uuid.UUID, error)
}

type SnapshotRepository interface {
	Save(ctx context.Context, s Snapshot) (uuid.UUID, error)
}
