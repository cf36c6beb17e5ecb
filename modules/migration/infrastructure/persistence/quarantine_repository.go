package persistence

import (
	"context"
	"encoding/json"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
	"github.com/forgeworks/cutover/pkg/composables"
)

type QuarantineRepository struct{}

func NewQuarantineRepository() quarantine.Repository {
	return &QuarantineRepository{}
}

func (r *QuarantineRepository) Upsert(ctx context.Context, e quarantine.Entry) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	data, err := json.Marshal(e.RecordData)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "quarantine marshal record data")
	}

	var id pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO migration_quarantine
			(id, org_id, job_id, entity_type, legacy_system, legacy_id, record_data,
			 failure_stage, error_class, error_code, error_hash, status, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (org_id, job_id, entity_type, legacy_system, legacy_id) DO UPDATE SET
			record_data = EXCLUDED.record_data,
			failure_stage = EXCLUDED.failure_stage,
			error_class = EXCLUDED.error_class,
			error_code = EXCLUDED.error_code,
			error_hash = EXCLUDED.error_hash,
			status = EXCLUDED.status,
			resolved_at = NULL
		RETURNING id`,
		orgID, e.JobID, e.EntityType, e.Key.System, e.Key.LegacyID, data,
		e.FailureStage, e.ErrorClass, e.ErrorCode, e.ErrorHash, quarantine.StatusQuarantined,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, gerrors.Wrap(err, "quarantine upsert")
	}
	return asUUID(id), nil
}

func (r *QuarantineRepository) Get(ctx context.Context, id uuid.UUID) (quarantine.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return quarantine.Entry{}, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return quarantine.Entry{}, err
	}

	e := quarantine.Entry{ID: id}
	var jobID pgtype.UUID
	var data []byte
	var createdAt, resolvedAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		SELECT job_id, entity_type, legacy_system, legacy_id, record_data,
		       failure_stage, error_class, error_code, error_hash, status, created_at, resolved_at
		FROM migration_quarantine
		WHERE org_id = $1 AND id = $2`,
		orgID, id,
	).Scan(&jobID, &e.EntityType, &e.Key.System, &e.Key.LegacyID, &data,
		&e.FailureStage, &e.ErrorClass, &e.ErrorCode, &e.ErrorHash, &e.Status, &createdAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quarantine.Entry{}, quarantine.ErrNotFound
		}
		return quarantine.Entry{}, gerrors.Wrap(err, "quarantine get")
	}
	e.JobID = asUUID(jobID)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.RecordData); err != nil {
			return quarantine.Entry{}, gerrors.Wrap(err, "quarantine unmarshal record data")
		}
	}
	e.CreatedAt = asTime(createdAt)
	e.ResolvedAt = asTime(resolvedAt)
	return e, nil
}

func (r *QuarantineRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE migration_quarantine
		SET status = $3, resolved_at = now()
		WHERE org_id = $1 AND id = $2`,
		orgID, id, quarantine.StatusResolved,
	)
	if err != nil {
		return gerrors.Wrap(err, "quarantine resolve")
	}
	if tag.RowsAffected() == 0 {
		return quarantine.ErrNotFound
	}
	return nil
}

func (r *QuarantineRepository) ListOpen(ctx context.Context, jobID uuid.UUID, entityType string, limit int) ([]quarantine.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := tx.Query(ctx, `
		SELECT id, job_id, entity_type, legacy_system, legacy_id, record_data,
		       failure_stage, error_class, error_code, error_hash, status, created_at, resolved_at
		FROM migration_quarantine
		WHERE org_id = $1 AND job_id = $2 AND entity_type = $3 AND status = $4
		ORDER BY created_at
		LIMIT $5`,
		orgID, jobID, entityType, quarantine.StatusQuarantined, limit,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "quarantine list")
	}
	defer rows.Close()

	var out []quarantine.Entry
	for rows.Next() {
		var e quarantine.Entry
		var id, job pgtype.UUID
		var data []byte
		var createdAt, resolvedAt pgtype.Timestamptz
		if err := rows.Scan(&id, &job, &e.EntityType, &e.Key.System, &e.Key.LegacyID, &data,
			&e.FailureStage, &e.ErrorClass, &e.ErrorCode, &e.ErrorHash, &e.Status, &createdAt, &resolvedAt); err != nil {
			return nil, gerrors.Wrap(err, "quarantine list scan")
		}
		e.ID = asUUID(id)
		e.JobID = asUUID(job)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.RecordData); err != nil {
				return nil, gerrors.Wrap(err, "quarantine list unmarshal")
			}
		}
		e.CreatedAt = asTime(createdAt)
		e.ResolvedAt = asTime(resolvedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "quarantine list rows")
	}
	return out, nil
}
