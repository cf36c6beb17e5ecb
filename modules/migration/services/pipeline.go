package services

import (
	"context"
	"sync"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
	"github.com/forgeworks/cutover/pkg/composables"
)

// RunSummary is the per-run outcome accounting handed to postflight gates and
// kept behind LastOutcomes.
type RunSummary struct {
	JobID       uuid.UUID
	Loaded      int
	Skipped     int
	Manual      int
	Quarantined int
	Outcomes    []plan.RecordOutcome
}

func (s *RunSummary) add(outcomes []plan.RecordOutcome) {
	s.Outcomes = append(s.Outcomes, outcomes...)
	for _, out := range outcomes {
		switch out.Status {
		case plan.StatusLoaded:
			s.Loaded++
		case plan.StatusSkipped:
			s.Skipped++
		case plan.StatusManualReview:
			s.Manual++
		case plan.StatusQuarantined:
			s.Quarantined++
		}
	}
}

type PipelineOptions struct {
	Preflight  []PreflightGate
	Postflight []PostflightGate
	Logger     *logrus.Entry
}

func (o *PipelineOptions) setDefaults() {
	if o.Logger == nil {
		o.Logger = nopLogger()
	}
}

// Pipeline drives one migration job end to end: extract, transform, plan and
// load per batch, with checkpoint-based resume. Extraction and transformation
// stay external behind their interfaces; the pipeline owns only the loop.
type Pipeline struct {
	extractor      Extractor
	transformer    Transformer
	planner        *Planner
	loader         *Loader
	replay         *ReplayService
	checkpoints    checkpoint.Repository
	quarantineRepo quarantine.Repository

	opts PipelineOptions

	mu   sync.Mutex
	last map[uuid.UUID]*RunSummary
}

func NewPipeline(
	extractor Extractor,
	transformer Transformer,
	planner *Planner,
	loader *Loader,
	replay *ReplayService,
	checkpoints checkpoint.Repository,
	quarantineRepo quarantine.Repository,
	opts PipelineOptions,
) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		extractor:      extractor,
		transformer:    transformer,
		planner:        planner,
		loader:         loader,
		replay:         replay,
		checkpoints:    checkpoints,
		quarantineRepo: quarantineRepo,
		opts:           opts,
		last:           map[uuid.UUID]*RunSummary{},
	}
}

// Run executes the job across all of its entity types. A batch that was
// interrupted mid-load resumes from its checkpoint; the reservation protocol
// keeps re-planned creates single-shot regardless.
func (p *Pipeline) Run(ctx context.Context, job Job) (RunSummary, error) {
	if err := job.Validate(); err != nil {
		return RunSummary{}, err
	}
	ctx = composables.WithOrgID(ctx, job.OrgID)
	log := p.opts.Logger.WithFields(logrus.Fields{
		"job_id": job.ID.String(),
		"system": job.System,
	})

	if _, err := runPreflightGates(ctx, log, job, p.opts.Preflight); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{JobID: job.ID}
	for _, entityType := range job.EntityTypes {
		if err := p.runEntityType(ctx, log, job, entityType, &summary); err != nil {
			p.remember(job.ID, summary)
			return summary, gerrors.Wrapf(err, "entity type %s", entityType)
		}
	}

	runPostflightGates(ctx, log, job, summary, p.opts.Postflight)
	p.remember(job.ID, summary)
	log.WithFields(logrus.Fields{
		"loaded":      summary.Loaded,
		"skipped":     summary.Skipped,
		"manual":      summary.Manual,
		"quarantined": summary.Quarantined,
	}).Info("migration run finished")
	return summary, nil
}

func (p *Pipeline) runEntityType(ctx context.Context, log *logrus.Entry, job Job, entityType string, summary *RunSummary) error {
	log = log.WithField("entity_type", entityType)
	transformVersion := p.transformer.Version()

	cursor := ""
	batchIndex := 0
	resume, hasResume := p.resumePoint(ctx, log, job, entityType, transformVersion)
	if hasResume {
		cursor = resume.Cursor
		batchIndex = resume.BatchIndex
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := p.extractor.ExtractBatch(ctx, entityType, job.BatchSize, cursor)
		if err != nil {
			return gerrors.Wrap(err, "extract batch")
		}
		if len(batch.Records) == 0 && !batch.HasMore {
			return nil
		}

		records := p.transformBatch(ctx, job, entityType, batch.Records, summary)
		pl, err := p.planner.PlanUpserts(ctx, job.ID, job.System, entityType, transformVersion, records)
		if err != nil {
			return gerrors.Wrap(err, "plan upserts")
		}

		startAt := 0
		if hasResume && pl.Fingerprint() == resume.PlanFingerprint {
			startAt = resume.LoadedUpTo
		}
		// The resume point only ever applies to the first batch after it.
		hasResume = false

		// Checkpoints carry the cursor of the batch being loaded, so a
		// mid-plan resume re-extracts this batch and regenerates its plan.
		outcomes, err := p.loader.LoadPlan(ctx, pl, LoadState{
			Cursor:     cursor,
			BatchIndex: batchIndex,
			StartAt:    startAt,
		})
		summary.add(outcomes)
		if err != nil {
			return gerrors.Wrap(err, "load plan")
		}
		log.WithFields(logrus.Fields{
			"batch_index": batchIndex,
			"records":     len(batch.Records),
			"actions":     len(pl.Actions),
		}).Info("batch loaded")

		if !batch.HasMore {
			return nil
		}
		cursor = batch.NextCursor
		batchIndex++
	}
}

// resumePoint loads the last checkpoint and decides whether it can be
// trusted. A transformVersion mismatch invalidates the whole thing; a
// fingerprint mismatch is only detectable once the plan is regenerated, so
// the cursor survives and LoadedUpTo is re-checked by the caller.
func (p *Pipeline) resumePoint(ctx context.Context, log *logrus.Entry, job Job, entityType, transformVersion string) (checkpoint.Checkpoint, bool) {
	cp, err := p.checkpoints.Load(ctx, job.ID, entityType)
	if err != nil {
		if !gerrors.Is(err, checkpoint.ErrNotFound) {
			log.WithError(err).Warn("checkpoint load failed, starting from scratch")
		}
		return checkpoint.Checkpoint{}, false
	}
	if cp.TransformVersion != transformVersion {
		log.WithFields(logrus.Fields{
			"stored_version":  cp.TransformVersion,
			"current_version": transformVersion,
		}).Warn("transform version changed, discarding checkpoint")
		return checkpoint.Checkpoint{}, false
	}
	log.WithFields(logrus.Fields{
		"cursor":      cp.Cursor,
		"batch_index": cp.BatchIndex,
		"loaded_upto": cp.LoadedUpTo,
	}).Info("resuming from checkpoint")
	return cp, true
}

func (p *Pipeline) transformBatch(ctx context.Context, job Job, entityType string, raws []RawRecord, summary *RunSummary) []plan.TransformedRecord {
	records := make([]plan.TransformedRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := p.transformer.Transform(ctx, entityType, raw)
		if err != nil {
			summary.add([]plan.RecordOutcome{p.quarantineTransform(ctx, job, entityType, raw, err)})
			continue
		}
		records = append(records, rec)
	}
	return records
}

// quarantineTransform parks a record that could not be transformed. Transform
// is pure, so the same input fails the same way again: permanent.
func (p *Pipeline) quarantineTransform(ctx context.Context, job Job, entityType string, raw RawRecord, cause error) plan.RecordOutcome {
	const stage = "transform"
	key := lineage.Key{System: job.System, LegacyID: rawLegacyID(raw)}
	entry := quarantine.Entry{
		JobID:        job.ID,
		EntityType:   entityType,
		Key:          key,
		RecordData:   raw,
		FailureStage: stage,
		ErrorClass:   plan.ErrorPermanent,
		ErrorCode:    "transform_error",
		ErrorHash:    plan.ErrorHash(stage, "transform_error", cause.Error()),
	}
	if _, err := p.quarantineRepo.Upsert(ctx, entry); err != nil {
		p.opts.Logger.WithError(err).WithField("legacy_id", key.LegacyID).Error("quarantine write failed")
	}
	p.opts.Logger.WithError(cause).WithFields(logrus.Fields{
		"entity_type": entityType,
		"legacy_id":   key.LegacyID,
	}).Warn("record failed transform")
	return plan.RecordOutcome{
		EntityType:   entityType,
		LegacyID:     key.LegacyID,
		Status:       plan.StatusQuarantined,
		ErrorClass:   plan.ErrorPermanent,
		ErrorCode:    "transform_error",
		FailureStage: stage,
	}
}

func (p *Pipeline) remember(jobID uuid.UUID, summary RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[jobID] = &summary
}

// LastOutcomes returns the outcome accounting of the most recent run of the
// given job, or false if this process has not run it.
func (p *Pipeline) LastOutcomes(jobID uuid.UUID) (RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.last[jobID]
	if !ok {
		return RunSummary{}, false
	}
	return *s, true
}

// LoadCheckpoint exposes the raw stored checkpoint to orchestrators.
func (p *Pipeline) LoadCheckpoint(ctx context.Context, jobID uuid.UUID, entityType string) (checkpoint.Checkpoint, error) {
	return p.checkpoints.Load(ctx, jobID, entityType)
}

func (p *Pipeline) PlanUpserts(ctx context.Context, jobID uuid.UUID, system, entityType, transformVersion string, records []plan.TransformedRecord) (plan.Plan, error) {
	return p.planner.PlanUpserts(ctx, jobID, system, entityType, transformVersion, records)
}

func (p *Pipeline) LoadPlan(ctx context.Context, pl plan.Plan, state LoadState) ([]plan.RecordOutcome, error) {
	return p.loader.LoadPlan(ctx, pl, state)
}

func (p *Pipeline) ReplayQuarantinedRecord(ctx context.Context, id uuid.UUID) (plan.RecordOutcome, error) {
	return p.replay.ReplayQuarantinedRecord(ctx, id)
}

// rawLegacyID pulls a best-effort identifier out of an untransformed record
// for quarantine bookkeeping.
func rawLegacyID(raw RawRecord) string {
	for _, k := range []string{"legacy_id", "legacyId", "id"} {
		if v, ok := raw[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return "unknown"
}
