package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

// RawRecord is one untransformed legacy record as returned by the extractor.
type RawRecord map[string]any

type ExtractBatch struct {
	Records    []RawRecord
	NextCursor string
	HasMore    bool
}

// Extractor pages over the legacy source. It must be resumable from any
// previously-returned cursor.
type Extractor interface {
	ExtractBatch(ctx context.Context, entityType string, batchSize int, cursor string) (ExtractBatch, error)
}

// Transformer turns raw legacy records into canonical transformed records.
// Version is a stable content hash of the active transform configuration and
// is used for checkpoint invalidation.
type Transformer interface {
	Transform(ctx context.Context, entityType string, raw RawRecord) (plan.TransformedRecord, error)
	Version() string
}

// ConflictDetector finds existing target records that plausibly represent the
// same real-world entity. One Conflict per input record that has at least one
// candidate; absence from the result means no conflict. Match ordering must
// be deterministic.
type ConflictDetector interface {
	DetectBulk(ctx context.Context, entityType string, records []plan.TransformedRecord) ([]plan.Conflict, error)
}

type MutateStatus string

const (
	MutateOK    MutateStatus = "ok"
	MutateError MutateStatus = "error"
)

type MutateRequest struct {
	ActionType plan.ActionKind
	EntityType string
	EntityID   string
	Input      map[string]any
	// IdempotencyKey lets the boundary dedupe retried creates.
	IdempotencyKey string
	// ExpectedVersion enables optimistic concurrency; nil skips the check.
	ExpectedVersion *int64
}

type MutateResult struct {
	Status       MutateStatus
	EntityID     string
	ErrorCode    string
	ErrorMessage string
}

// WriteBoundary performs target-store mutations. The engine never mutates
// target-entity storage directly.
type WriteBoundary interface {
	Mutate(ctx context.Context, req MutateRequest) (MutateResult, error)
	// ReadRawRow returns the raw target row for snapshotting, or nil if the
	// row does not exist.
	ReadRawRow(ctx context.Context, entityType, id string) (json.RawMessage, error)
}

// Job identifies one migration run scope.
type Job struct {
	ID     uuid.UUID
	OrgID  uuid.UUID
	System string

	EntityTypes []string
	BatchSize   int
}

func (j Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrInvalidJob("job id is required")
	}
	if j.OrgID == uuid.Nil {
		return ErrInvalidJob("org id is required")
	}
	if j.System == "" {
		return ErrInvalidJob("legacy system name is required")
	}
	if len(j.EntityTypes) == 0 {
		return ErrInvalidJob("at least one entity type is required")
	}
	return nil
}
