package persistence

import (
	"context"
	"encoding/json"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/forgeworks/cutover/modules/migration/domain/audit"
	"github.com/forgeworks/cutover/pkg/composables"
)

type MergeExplanationRepository struct{}

func NewMergeExplanationRepository() audit.ExplanationRepository {
	return &MergeExplanationRepository{}
}

func (r *MergeExplanationRepository) Append(ctx context.Context, e audit.MergeExplanation) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}

	reasons, err := json.Marshal(e.Reasons)
	if err != nil {
		return gerrors.Wrap(err, "merge explanation marshal reasons")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO migration_merge_explanations
			(org_id, job_id, entity_type, legacy_id, target_id, decision, score_total, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		orgID, e.JobID, e.EntityType, e.LegacyID, e.TargetID, e.Decision, e.ScoreTotal, reasons,
	)
	if err != nil {
		return gerrors.Wrap(err, "merge explanation append")
	}
	return nil
}

func (r *MergeExplanationRepository) ListByJob(ctx context.Context, jobID uuid.UUID, entityType string) ([]audit.MergeExplanation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT job_id, entity_type, legacy_id, target_id, decision, score_total, reasons, created_at
		FROM migration_merge_explanations
		WHERE org_id = $1 AND job_id = $2 AND entity_type = $3
		ORDER BY id`,
		orgID, jobID, entityType,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "merge explanation list")
	}
	defer rows.Close()

	var out []audit.MergeExplanation
	for rows.Next() {
		var e audit.MergeExplanation
		var job pgtype.UUID
		var reasons []byte
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&job, &e.EntityType, &e.LegacyID, &e.TargetID, &e.Decision, &e.ScoreTotal, &reasons, &createdAt); err != nil {
			return nil, gerrors.Wrap(err, "merge explanation scan")
		}
		e.JobID = asUUID(job)
		if len(reasons) > 0 {
			if err := json.Unmarshal(reasons, &e.Reasons); err != nil {
				return nil, gerrors.Wrap(err, "merge explanation unmarshal reasons")
			}
		}
		e.CreatedAt = asTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "merge explanation rows")
	}
	return out, nil
}

type ConflictReviewRepository struct{}

func NewConflictReviewRepository() audit.ReviewRepository {
	return &ConflictReviewRepository{}
}

func (r *ConflictReviewRepository) Save(ctx context.Context, rev audit.ConflictReview) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	candidates, err := json.Marshal(rev.Candidates)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "conflict review marshal candidates")
	}
	data, err := json.Marshal(rev.RecordData)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "conflict review marshal record data")
	}

	var id pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO migration_conflict_reviews
			(id, org_id, job_id, entity_type, legacy_id, candidates, record_data, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (org_id, job_id, entity_type, legacy_id) DO UPDATE SET
			candidates = EXCLUDED.candidates,
			record_data = EXCLUDED.record_data
		RETURNING id`,
		orgID, rev.JobID, rev.EntityType, rev.LegacyID, candidates, data,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "conflict review save")
	}
	return asUUID(id), nil
}

type SnapshotRepository struct{}

func NewSnapshotRepository() audit.SnapshotRepository {
	return &SnapshotRepository{}
}

func (r *SnapshotRepository) Save(ctx context.Context, s audit.Snapshot) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	state := s.State
	if state == nil {
		state = json.RawMessage("null")
	}
	patch := s.Patch
	if patch == nil {
		patch = json.RawMessage("null")
	}

	var id pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO migration_snapshots
			(id, org_id, job_id, entity_type, target_id, legacy_id, state, patch, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id`,
		orgID, s.JobID, s.EntityType, s.TargetID, s.LegacyID, []byte(state), []byte(patch),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "snapshot save")
	}
	return asUUID(id), nil
}
