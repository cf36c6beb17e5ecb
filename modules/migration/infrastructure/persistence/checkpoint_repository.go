package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/pkg/composables"
)

type CheckpointRepository struct{}

func NewCheckpointRepository() checkpoint.Repository {
	return &CheckpointRepository{}
}

func (r *CheckpointRepository) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO migration_checkpoints
			(org_id, job_id, entity_type, cursor, batch_index, loaded_up_to, transform_version, plan_fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (org_id, job_id, entity_type) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			batch_index = EXCLUDED.batch_index,
			loaded_up_to = EXCLUDED.loaded_up_to,
			transform_version = EXCLUDED.transform_version,
			plan_fingerprint = EXCLUDED.plan_fingerprint,
			updated_at = now()`,
		orgID, cp.JobID, cp.EntityType, cp.Cursor, cp.BatchIndex, cp.LoadedUpTo,
		cp.TransformVersion, cp.PlanFingerprint,
	)
	if err != nil {
		return gerrors.Wrap(err, "checkpoint save")
	}
	return nil
}

func (r *CheckpointRepository) Load(ctx context.Context, jobID uuid.UUID, entityType string) (checkpoint.Checkpoint, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}

	cp := checkpoint.Checkpoint{JobID: jobID, EntityType: entityType}
	var updatedAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		SELECT cursor, batch_index, loaded_up_to, transform_version, plan_fingerprint, updated_at
		FROM migration_checkpoints
		WHERE org_id = $1 AND job_id = $2 AND entity_type = $3`,
		orgID, jobID, entityType,
	).Scan(&cp.Cursor, &cp.BatchIndex, &cp.LoadedUpTo, &cp.TransformVersion, &cp.PlanFingerprint, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, gerrors.Wrap(err, "checkpoint load")
	}
	cp.UpdatedAt = asTime(updatedAt)
	return cp, nil
}
