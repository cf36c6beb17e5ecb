package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/pkg/composables"
)

const pgUniqueViolation = "23505"

type LineageRepository struct{}

func NewLineageRepository() lineage.Repository {
	return &LineageRepository{}
}

func (r *LineageRepository) GetBulk(ctx context.Context, entityType string, keys []lineage.Key) (map[lineage.Key]lineage.Record, error) {
	out := make(map[lineage.Key]lineage.Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return nil, err
	}

	systems := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		systems[i] = k.System
		ids[i] = k.LegacyID
	}

	rows, err := tx.Query(ctx, `
		SELECT legacy_system, legacy_id, target_id, state, owner_token, reserved_at, committed_at
		FROM migration_lineage
		WHERE org_id = $1 AND entity_type = $2
		  AND (legacy_system, legacy_id) IN (
			SELECT s, i FROM unnest($3::text[], $4::text[]) AS t(s, i)
		  )`,
		orgID, entityType, systems, ids,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "lineage bulk select")
	}
	defer rows.Close()

	for rows.Next() {
		rec := lineage.Record{OrgID: orgID, EntityType: entityType}
		var targetID *string
		var ownerToken pgtype.UUID
		var reservedAt, committedAt pgtype.Timestamptz
		if err := rows.Scan(&rec.Key.System, &rec.Key.LegacyID, &targetID, &rec.State, &ownerToken, &reservedAt, &committedAt); err != nil {
			return nil, gerrors.Wrap(err, "lineage bulk scan")
		}
		if targetID != nil {
			rec.TargetID = *targetID
		}
		rec.OwnerToken = asUUID(ownerToken)
		rec.ReservedAt = asTime(reservedAt)
		rec.CommittedAt = asTime(committedAt)
		out[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "lineage bulk rows")
	}
	return out, nil
}

func (r *LineageRepository) Get(ctx context.Context, entityType string, key lineage.Key) (lineage.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return lineage.Record{}, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return lineage.Record{}, err
	}

	rec := lineage.Record{OrgID: orgID, EntityType: entityType, Key: key}
	var targetID *string
	var ownerToken pgtype.UUID
	var reservedAt, committedAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		SELECT target_id, state, owner_token, reserved_at, committed_at
		FROM migration_lineage
		WHERE org_id = $1 AND entity_type = $2 AND legacy_system = $3 AND legacy_id = $4`,
		orgID, entityType, key.System, key.LegacyID,
	).Scan(&targetID, &rec.State, &ownerToken, &reservedAt, &committedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lineage.Record{}, lineage.ErrNotFound
		}
		return lineage.Record{}, gerrors.Wrap(err, "lineage get")
	}
	if targetID != nil {
		rec.TargetID = *targetID
	}
	rec.OwnerToken = asUUID(ownerToken)
	rec.ReservedAt = asTime(reservedAt)
	rec.CommittedAt = asTime(committedAt)
	return rec, nil
}

func (r *LineageRepository) Reserve(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO migration_lineage (org_id, entity_type, legacy_system, legacy_id, state, owner_token, reserved_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		orgID, entityType, key.System, key.LegacyID, lineage.StateReserved, ownerToken,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// A concurrent attempt (or an earlier commit) holds the row.
			return false, nil
		}
		return false, gerrors.Wrap(err, "lineage reserve")
	}
	return true, nil
}

func (r *LineageRepository) Commit(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID, targetID string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE migration_lineage
		SET state = $6, target_id = $7, committed_at = now()
		WHERE org_id = $1 AND entity_type = $2 AND legacy_system = $3 AND legacy_id = $4
		  AND owner_token = $5 AND state = $8`,
		orgID, entityType, key.System, key.LegacyID, ownerToken,
		lineage.StateCommitted, targetID, lineage.StateReserved,
	)
	if err != nil {
		return gerrors.Wrap(err, "lineage commit")
	}
	if tag.RowsAffected() == 0 {
		return lineage.ErrNotOwner
	}
	return nil
}

func (r *LineageRepository) Release(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM migration_lineage
		WHERE org_id = $1 AND entity_type = $2 AND legacy_system = $3 AND legacy_id = $4
		  AND owner_token = $5 AND state = $6`,
		orgID, entityType, key.System, key.LegacyID, ownerToken, lineage.StateReserved,
	)
	if err != nil {
		return gerrors.Wrap(err, "lineage release")
	}
	if tag.RowsAffected() == 0 {
		return lineage.ErrNotOwner
	}
	return nil
}
