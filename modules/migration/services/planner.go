package services

import (
	"context"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgeworks/cutover/modules/migration/domain/audit"
	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

type ConflictStrategy string

const (
	StrategySkip      ConflictStrategy = "skip"
	StrategyOverwrite ConflictStrategy = "overwrite"
	StrategyMerge     ConflictStrategy = "merge"
	StrategyManual    ConflictStrategy = "manual"
)

type PlannerConfig struct {
	Strategy ConflictStrategy
	// AutoMergeScore and ManualReviewScore split conflict scores into three
	// bands; AutoMergeScore must be >= ManualReviewScore.
	AutoMergeScore    float64
	ManualReviewScore float64

	Logger *logrus.Entry
}

// Planner turns a batch of transformed records into an ordered UpsertPlan,
// one action per record. It is total: no input combination fails planning.
type Planner struct {
	lineageRepo  lineage.Repository
	detector     ConflictDetector
	explanations audit.ExplanationRepository
	cfg          PlannerConfig
}

func NewPlanner(lineageRepo lineage.Repository, detector ConflictDetector, explanations audit.ExplanationRepository, cfg PlannerConfig) *Planner {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyMerge
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger()
	}
	return &Planner{
		lineageRepo:  lineageRepo,
		detector:     detector,
		explanations: explanations,
		cfg:          cfg,
	}
}

func (p *Planner) PlanUpserts(ctx context.Context, jobID uuid.UUID, system, entityType, transformVersion string, records []plan.TransformedRecord) (plan.Plan, error) {
	result := plan.Plan{
		JobID:            jobID,
		EntityType:       entityType,
		TransformVersion: transformVersion,
		Actions:          make([]plan.UpsertAction, 0, len(records)),
	}

	keys := make([]lineage.Key, len(records))
	for i, rec := range records {
		keys[i] = lineage.Key{System: system, LegacyID: rec.LegacyID}
	}

	// One bulk lineage fetch for the whole batch, never per record.
	rows, err := p.lineageRepo.GetBulk(ctx, entityType, keys)
	if err != nil {
		return plan.Plan{}, gerrors.Wrap(err, "plan: bulk lineage fetch")
	}

	// Conflict detection runs once over the not-yet-committed subset.
	// Committed lineage is authoritative and skips detection entirely.
	var fresh []plan.TransformedRecord
	for i, rec := range records {
		if row, ok := rows[keys[i]]; !ok || !row.Committed() {
			fresh = append(fresh, rec)
		}
	}
	conflicts := map[string]plan.Conflict{}
	if len(fresh) > 0 {
		detected, err := p.detector.DetectBulk(ctx, entityType, fresh)
		if err != nil {
			return plan.Plan{}, gerrors.Wrap(err, "plan: bulk conflict detection")
		}
		for _, c := range detected {
			conflicts[c.LegacyID] = c
		}
	}

	for i, rec := range records {
		key := keys[i]
		if row, ok := rows[key]; ok && row.Committed() {
			result.Actions = append(result.Actions, p.planCommitted(key, rec, row))
			continue
		}

		action, explanation := p.planFresh(jobID, entityType, key, rec, conflicts[rec.LegacyID])
		if explanation != nil {
			if err := p.explanations.Append(ctx, *explanation); err != nil {
				return plan.Plan{}, gerrors.Wrap(err, "plan: append merge explanation")
			}
		}
		result.Actions = append(result.Actions, action)
	}

	p.cfg.Logger.WithFields(logrus.Fields{
		"job_id":      jobID.String(),
		"entity_type": entityType,
		"records":     len(records),
		"fresh":       len(fresh),
		"conflicts":   len(conflicts),
	}).Debug("plan built")

	return result, nil
}

func (p *Planner) planCommitted(key lineage.Key, rec plan.TransformedRecord, row lineage.Record) plan.UpsertAction {
	if p.cfg.Strategy == StrategySkip {
		return plan.UpsertAction{
			Kind:   plan.ActionSkip,
			Key:    key,
			Record: rec,
			Reason: "already migrated",
		}
	}
	return plan.UpsertAction{
		Kind:     plan.ActionUpdate,
		Key:      key,
		Record:   rec,
		TargetID: row.TargetID,
	}
}

func (p *Planner) planFresh(jobID uuid.UUID, entityType string, key lineage.Key, rec plan.TransformedRecord, conflict plan.Conflict) (plan.UpsertAction, *audit.MergeExplanation) {
	best, found := conflict.Best()
	if !found {
		return plan.UpsertAction{Kind: plan.ActionCreate, Key: key, Record: rec}, nil
	}

	switch p.cfg.Strategy {
	case StrategySkip:
		return plan.UpsertAction{
			Kind:   plan.ActionSkip,
			Key:    key,
			Record: rec,
			Reason: "conflict detected",
		}, nil

	case StrategyOverwrite:
		return plan.UpsertAction{
			Kind:     plan.ActionUpdate,
			Key:      key,
			Record:   rec,
			TargetID: best.EntityID,
			Score:    best.Score,
		}, nil

	case StrategyManual:
		return plan.UpsertAction{
			Kind:       plan.ActionManual,
			Key:        key,
			Record:     rec,
			Candidates: conflict.Matches,
			Score:      best.Score,
		}, nil
	}

	// Merge strategy: classify by the best score against the two thresholds.
	switch {
	case best.Score >= p.cfg.AutoMergeScore:
		return plan.UpsertAction{
				Kind:     plan.ActionMerge,
				Key:      key,
				Record:   rec,
				TargetID: best.EntityID,
				Score:    best.Score,
			}, &audit.MergeExplanation{
				JobID:      jobID,
				EntityType: entityType,
				LegacyID:   rec.LegacyID,
				TargetID:   best.EntityID,
				Decision:   audit.DecisionMerged,
				ScoreTotal: best.Score,
				Reasons:    best.Explanations,
			}

	case best.Score >= p.cfg.ManualReviewScore:
		return plan.UpsertAction{
				Kind:       plan.ActionManual,
				Key:        key,
				Record:     rec,
				Candidates: conflict.Matches,
				Score:      best.Score,
			}, &audit.MergeExplanation{
				JobID:      jobID,
				EntityType: entityType,
				LegacyID:   rec.LegacyID,
				TargetID:   best.EntityID,
				Decision:   audit.DecisionManualReview,
				ScoreTotal: best.Score,
				Reasons:    best.Explanations,
			}

	default:
		// Below the review floor the match is treated as a distinct entity.
		return plan.UpsertAction{Kind: plan.ActionCreate, Key: key, Record: rec, Score: best.Score},
			&audit.MergeExplanation{
				JobID:      jobID,
				EntityType: entityType,
				LegacyID:   rec.LegacyID,
				TargetID:   best.EntityID,
				Decision:   audit.DecisionCreatedNew,
				ScoreTotal: best.Score,
				Reasons:    best.Explanations,
			}
	}
}

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
