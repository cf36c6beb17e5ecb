package services

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
)

// ReplayService re-runs the reservation->create path for a single
// quarantined record from its stored data, with no re-extraction and no
// re-transform.
type ReplayService struct {
	lineageRepo    lineage.Repository
	quarantineRepo quarantine.Repository
	boundary       WriteBoundary
	log            *logrus.Entry
}

func NewReplayService(lineageRepo lineage.Repository, quarantineRepo quarantine.Repository, boundary WriteBoundary, log *logrus.Entry) *ReplayService {
	if log == nil {
		log = nopLogger()
	}
	return &ReplayService{
		lineageRepo:    lineageRepo,
		quarantineRepo: quarantineRepo,
		boundary:       boundary,
		log:            log,
	}
}

func (s *ReplayService) ReplayQuarantinedRecord(ctx context.Context, id uuid.UUID) (plan.RecordOutcome, error) {
	entry, err := s.quarantineRepo.Get(ctx, id)
	if err != nil {
		return plan.RecordOutcome{}, gerrors.Wrap(err, "replay: load quarantine entry")
	}

	// Committed lineage means the entity already exists; replay must not
	// recreate it. This also makes replaying a resolved entry a no-op with
	// respect to target-store side effects.
	rec, err := s.lineageRepo.Get(ctx, entry.EntityType, entry.Key)
	if err != nil && !errors.Is(err, lineage.ErrNotFound) {
		return plan.RecordOutcome{}, gerrors.Wrap(err, "replay: lineage lookup")
	}
	if err == nil && rec.Committed() {
		return plan.RecordOutcome{
			EntityType: entry.EntityType,
			LegacyID:   entry.Key.LegacyID,
			Status:     plan.StatusSkipped,
			Action:     plan.ActionCreate,
			TargetID:   rec.TargetID,
		}, nil
	}

	ownerToken := uuid.New()
	isWinner, err := s.lineageRepo.Reserve(ctx, entry.EntityType, entry.Key, ownerToken)
	if err != nil {
		return plan.RecordOutcome{}, gerrors.Wrap(err, "replay: reserve")
	}
	if !isWinner {
		// Another process holds the key; it already created the entity or is
		// about to. That is a skip, not a success.
		return plan.RecordOutcome{
			EntityType: entry.EntityType,
			LegacyID:   entry.Key.LegacyID,
			Status:     plan.StatusSkipped,
			Action:     plan.ActionCreate,
		}, nil
	}

	res, err := s.boundary.Mutate(ctx, MutateRequest{
		ActionType:     plan.ActionCreate,
		EntityType:     entry.EntityType,
		Input:          entry.RecordData,
		IdempotencyKey: entry.Key.System + ":" + entry.Key.LegacyID,
	})
	if err != nil || res.Status != MutateOK {
		if rErr := s.lineageRepo.Release(ctx, entry.EntityType, entry.Key, ownerToken); rErr != nil {
			s.log.WithError(rErr).WithField("legacy_id", entry.Key.LegacyID).Warn("replay: release failed")
		}
		code, class, message := "boundary_error", plan.ErrorTransient, ""
		if err != nil {
			message = err.Error()
		} else {
			code, class, message = res.ErrorCode, classifyErrorCode(res.ErrorCode), res.ErrorMessage
		}

		entry.FailureStage = "replay.create"
		entry.ErrorClass = class
		entry.ErrorCode = code
		entry.ErrorHash = plan.ErrorHash(entry.FailureStage, code, message)
		if _, uErr := s.quarantineRepo.Upsert(ctx, entry); uErr != nil {
			s.log.WithError(uErr).WithField("legacy_id", entry.Key.LegacyID).Error("replay: quarantine refresh failed")
		}
		return plan.RecordOutcome{
			EntityType:   entry.EntityType,
			LegacyID:     entry.Key.LegacyID,
			Status:       plan.StatusQuarantined,
			Action:       plan.ActionCreate,
			ErrorClass:   class,
			ErrorCode:    code,
			FailureStage: entry.FailureStage,
		}, nil
	}

	if err := s.lineageRepo.Commit(ctx, entry.EntityType, entry.Key, ownerToken, res.EntityID); err != nil {
		return plan.RecordOutcome{}, gerrors.Wrap(err, "replay: commit lineage")
	}
	if err := s.quarantineRepo.MarkResolved(ctx, entry.ID); err != nil {
		return plan.RecordOutcome{}, gerrors.Wrap(err, "replay: mark resolved")
	}

	s.log.WithFields(logrus.Fields{
		"quarantine_id": entry.ID.String(),
		"entity_type":   entry.EntityType,
		"legacy_id":     entry.Key.LegacyID,
		"target_id":     res.EntityID,
	}).Info("quarantined record replayed")

	return plan.RecordOutcome{
		EntityType: entry.EntityType,
		LegacyID:   entry.Key.LegacyID,
		Status:     plan.StatusLoaded,
		Action:     plan.ActionCreate,
		TargetID:   res.EntityID,
	}, nil
}
