package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/cutover/modules/migration/domain/audit"
	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
	"github.com/forgeworks/cutover/pkg/eventbus"
)

// RecordLoaded and RecordQuarantined are published on the event bus for each
// terminal outcome of the corresponding kind.
type RecordLoaded struct {
	JobID   uuid.UUID
	Outcome plan.RecordOutcome
}

type RecordQuarantined struct {
	JobID        uuid.UUID
	QuarantineID uuid.UUID
	Outcome      plan.RecordOutcome
}

type LoaderOptions struct {
	// CreateWorkers bounds concurrent creates within one sub-batch.
	CreateWorkers int
	// CheckpointInterval is the cadence of mid-plan checkpoints, counted in
	// records. 0 keeps only the end-of-plan checkpoint.
	CheckpointInterval int

	Logger *logrus.Entry
}

func (o *LoaderOptions) setDefaults() {
	if o.CreateWorkers <= 0 {
		o.CreateWorkers = 8
	}
	if o.CheckpointInterval < 0 {
		o.CheckpointInterval = 0
	}
	if o.Logger == nil {
		o.Logger = nopLogger()
	}
}

// LoadState tells LoadPlan where in the surrounding job this plan sits and,
// on resume, how far into the plan committed work already reached.
type LoadState struct {
	Cursor     string
	BatchIndex int
	StartAt    int
}

// Loader executes an UpsertPlan: a bounded-concurrency create path and an
// in-order sequential path for everything else.
type Loader struct {
	lineageRepo    lineage.Repository
	checkpoints    checkpoint.Repository
	quarantineRepo quarantine.Repository
	reviews        audit.ReviewRepository
	snapshots      audit.SnapshotRepository
	boundary       WriteBoundary
	bus            eventbus.EventBus

	opts LoaderOptions
	m    *metrics
}

func NewLoader(
	lineageRepo lineage.Repository,
	checkpoints checkpoint.Repository,
	quarantineRepo quarantine.Repository,
	reviews audit.ReviewRepository,
	snapshots audit.SnapshotRepository,
	boundary WriteBoundary,
	bus eventbus.EventBus,
	opts LoaderOptions,
) *Loader {
	opts.setDefaults()
	return &Loader{
		lineageRepo:    lineageRepo,
		checkpoints:    checkpoints,
		quarantineRepo: quarantineRepo,
		reviews:        reviews,
		snapshots:      snapshots,
		boundary:       boundary,
		bus:            bus,
		opts:           opts,
		m:              getMetrics(),
	}
}

// LoadPlan processes p.Actions[state.StartAt:] and returns one terminal
// outcome per processed record, in plan order for the sequential path.
func (l *Loader) LoadPlan(ctx context.Context, p plan.Plan, state LoadState) ([]plan.RecordOutcome, error) {
	if state.StartAt < 0 {
		state.StartAt = 0
	}
	if state.StartAt > len(p.Actions) {
		state.StartAt = len(p.Actions)
	}

	fingerprint := p.Fingerprint()
	outcomes := make([]plan.RecordOutcome, 0, len(p.Actions)-state.StartAt)

	i := state.StartAt
	sinceCheckpoint := 0
	for i < len(p.Actions) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		if p.Actions[i].Kind == plan.ActionCreate {
			j := i
			for j < len(p.Actions) && p.Actions[j].Kind == plan.ActionCreate {
				j++
			}
			outcomes = append(outcomes, l.runCreateBatch(ctx, p, p.Actions[i:j])...)
			i = j
			sinceCheckpoint = 0
			if l.opts.CheckpointInterval > 0 {
				l.saveCheckpoint(ctx, p, state, fingerprint, i)
			}
			continue
		}

		outcomes = append(outcomes, l.runSequential(ctx, p, p.Actions[i]))
		i++
		sinceCheckpoint++
		if l.opts.CheckpointInterval > 0 && sinceCheckpoint >= l.opts.CheckpointInterval {
			l.saveCheckpoint(ctx, p, state, fingerprint, i)
			sinceCheckpoint = 0
		}
	}

	// End-of-plan checkpoint is unconditional.
	l.saveCheckpoint(ctx, p, state, fingerprint, len(p.Actions))

	for _, out := range outcomes {
		l.m.outcomesTotal.WithLabelValues(out.EntityType, string(out.Status)).Inc()
	}
	return outcomes, nil
}

func (l *Loader) saveCheckpoint(ctx context.Context, p plan.Plan, state LoadState, fingerprint string, loadedUpTo int) {
	cp := checkpoint.Checkpoint{
		JobID:            p.JobID,
		EntityType:       p.EntityType,
		Cursor:           state.Cursor,
		BatchIndex:       state.BatchIndex,
		LoadedUpTo:       loadedUpTo,
		TransformVersion: p.TransformVersion,
		PlanFingerprint:  fingerprint,
	}
	if err := l.checkpoints.Save(ctx, cp); err != nil {
		l.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"job_id":      p.JobID.String(),
			"entity_type": p.EntityType,
			"loaded_upto": loadedUpTo,
		}).Warn("checkpoint save failed")
		return
	}
	l.m.checkpointSavesTotal.WithLabelValues(p.EntityType).Inc()
}

// runCreateBatch fans a run of consecutive creates out to a bounded worker
// pool. Sibling creates are independent: every worker records its own outcome
// and never aborts the group.
func (l *Loader) runCreateBatch(ctx context.Context, p plan.Plan, batch []plan.UpsertAction) []plan.RecordOutcome {
	results := make([]plan.RecordOutcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.CreateWorkers)
	for idx, action := range batch {
		idx, action := idx, action
		g.Go(func() error {
			results[idx] = l.runCreate(gctx, p, action)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runCreate walks the reservation protocol for one record:
// reserve -> external create -> commit lineage, or delete the reservation on
// write failure so the key stays eligible for a future attempt.
func (l *Loader) runCreate(ctx context.Context, p plan.Plan, action plan.UpsertAction) plan.RecordOutcome {
	ownerToken := uuid.New()

	isWinner, err := l.lineageRepo.Reserve(ctx, p.EntityType, action.Key, ownerToken)
	if err != nil {
		return l.quarantineOutcome(ctx, p, action, "load.reserve", "lineage_error", plan.ErrorTransient, err.Error())
	}
	if !isWinner {
		// Losing the race is a normal outcome, not an error. The winner is
		// responsible for eventually committing.
		l.m.reservationsLost.WithLabelValues(p.EntityType).Inc()
		return plan.RecordOutcome{
			EntityType: p.EntityType,
			LegacyID:   action.Key.LegacyID,
			Status:     plan.StatusSkipped,
			Action:     plan.ActionCreate,
		}
	}

	res, err := l.mutate(ctx, MutateRequest{
		ActionType:     plan.ActionCreate,
		EntityType:     p.EntityType,
		Input:          action.Record.Data,
		IdempotencyKey: action.Key.System + ":" + action.Key.LegacyID,
	})
	if err != nil || res.Status != MutateOK {
		if rErr := l.lineageRepo.Release(ctx, p.EntityType, action.Key, ownerToken); rErr != nil {
			l.opts.Logger.WithError(rErr).WithField("legacy_id", action.Key.LegacyID).
				Warn("reservation release failed")
		}
		if err != nil {
			return l.quarantineOutcome(ctx, p, action, "load.create", "boundary_error", plan.ErrorTransient, err.Error())
		}
		return l.quarantineOutcome(ctx, p, action, "load.create", res.ErrorCode, classifyErrorCode(res.ErrorCode), res.ErrorMessage)
	}

	if err := l.lineageRepo.Commit(ctx, p.EntityType, action.Key, ownerToken, res.EntityID); err != nil {
		return l.quarantineOutcome(ctx, p, action, "load.commit-lineage", "lineage_error", plan.ErrorTransient, err.Error())
	}

	out := plan.RecordOutcome{
		EntityType: p.EntityType,
		LegacyID:   action.Key.LegacyID,
		Status:     plan.StatusLoaded,
		Action:     plan.ActionCreate,
		TargetID:   res.EntityID,
	}
	l.publish(RecordLoaded{JobID: p.JobID, Outcome: out})
	return out
}

func (l *Loader) runSequential(ctx context.Context, p plan.Plan, action plan.UpsertAction) plan.RecordOutcome {
	switch action.Kind {
	case plan.ActionSkip:
		return plan.RecordOutcome{
			EntityType: p.EntityType,
			LegacyID:   action.Key.LegacyID,
			Status:     plan.StatusSkipped,
			Action:     plan.ActionSkip,
		}

	case plan.ActionManual:
		_, err := l.reviews.Save(ctx, audit.ConflictReview{
			JobID:      p.JobID,
			EntityType: p.EntityType,
			LegacyID:   action.Key.LegacyID,
			Candidates: action.Candidates,
			RecordData: action.Record.Data,
		})
		if err != nil {
			return l.quarantineOutcome(ctx, p, action, "load.review", "review_error", plan.ErrorTransient, err.Error())
		}
		return plan.RecordOutcome{
			EntityType: p.EntityType,
			LegacyID:   action.Key.LegacyID,
			Status:     plan.StatusManualReview,
			Action:     plan.ActionManual,
		}

	case plan.ActionUpdate, plan.ActionMerge:
		return l.runMutation(ctx, p, action)

	default:
		// Plans only contain create/update/merge/skip/manual; creates never
		// reach the sequential path.
		return l.quarantineOutcome(ctx, p, action, "load.dispatch", "unknown_action", plan.ErrorPermanent,
			"unhandled action kind "+string(action.Kind))
	}
}

// runMutation handles update and merge actions: snapshot the pre-mutation
// target state, persist it with the outgoing JSON patch, then invoke the
// write boundary with an optimistic concurrency token.
func (l *Loader) runMutation(ctx context.Context, p plan.Plan, action plan.UpsertAction) plan.RecordOutcome {
	stage := "load." + string(action.Kind)

	raw, err := l.boundary.ReadRawRow(ctx, p.EntityType, action.TargetID)
	if err != nil {
		return l.quarantineOutcome(ctx, p, action, stage, "snapshot_read_error", plan.ErrorTransient, err.Error())
	}

	var expectedVersion *int64
	var patch json.RawMessage
	if raw != nil {
		expectedVersion = versionOf(raw)
		input, mErr := json.Marshal(action.Record.Data)
		if mErr != nil {
			return l.quarantineOutcome(ctx, p, action, stage, "encode_error", plan.ErrorPermanent, mErr.Error())
		}
		if diff, dErr := jsondiff.CompareJSON(raw, input); dErr == nil {
			patch, _ = json.Marshal(diff)
		}
	}

	if _, err := l.snapshots.Save(ctx, audit.Snapshot{
		JobID:      p.JobID,
		EntityType: p.EntityType,
		TargetID:   action.TargetID,
		LegacyID:   action.Key.LegacyID,
		State:      raw,
		Patch:      patch,
	}); err != nil {
		return l.quarantineOutcome(ctx, p, action, stage, "snapshot_write_error", plan.ErrorTransient, err.Error())
	}

	res, err := l.mutate(ctx, MutateRequest{
		ActionType:      action.Kind,
		EntityType:      p.EntityType,
		EntityID:        action.TargetID,
		Input:           action.Record.Data,
		IdempotencyKey:  action.Key.System + ":" + action.Key.LegacyID,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return l.quarantineOutcome(ctx, p, action, stage, "boundary_error", plan.ErrorTransient, err.Error())
	}
	if res.Status != MutateOK {
		return l.quarantineOutcome(ctx, p, action, stage, res.ErrorCode, classifyErrorCode(res.ErrorCode), res.ErrorMessage)
	}

	out := plan.RecordOutcome{
		EntityType: p.EntityType,
		LegacyID:   action.Key.LegacyID,
		Status:     plan.StatusLoaded,
		Action:     action.Kind,
		TargetID:   action.TargetID,
	}
	l.publish(RecordLoaded{JobID: p.JobID, Outcome: out})
	return out
}

func (l *Loader) mutate(ctx context.Context, req MutateRequest) (MutateResult, error) {
	start := time.Now()
	res, err := l.boundary.Mutate(ctx, req)
	l.m.mutateLatency.WithLabelValues(req.EntityType, string(req.ActionType)).Observe(time.Since(start).Seconds())
	return res, err
}

func (l *Loader) quarantineOutcome(ctx context.Context, p plan.Plan, action plan.UpsertAction, stage, code string, class plan.ErrorClass, message string) plan.RecordOutcome {
	entry := quarantine.Entry{
		JobID:        p.JobID,
		EntityType:   p.EntityType,
		Key:          action.Key,
		RecordData:   action.Record.Data,
		FailureStage: stage,
		ErrorClass:   class,
		ErrorCode:    code,
		ErrorHash:    plan.ErrorHash(stage, code, message),
	}
	id, err := l.quarantineRepo.Upsert(ctx, entry)
	if err != nil {
		l.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"legacy_id": action.Key.LegacyID,
			"stage":     stage,
		}).Error("quarantine write failed")
	}

	out := plan.RecordOutcome{
		EntityType:   p.EntityType,
		LegacyID:     action.Key.LegacyID,
		Status:       plan.StatusQuarantined,
		Action:       action.Kind,
		ErrorClass:   class,
		ErrorCode:    code,
		FailureStage: stage,
	}
	l.opts.Logger.WithFields(logrus.Fields{
		"job_id":      p.JobID.String(),
		"entity_type": p.EntityType,
		"legacy_id":   action.Key.LegacyID,
		"stage":       stage,
		"error_code":  code,
		"error_class": string(class),
	}).Warn("record quarantined")
	l.publish(RecordQuarantined{JobID: p.JobID, QuarantineID: id, Outcome: out})
	return out
}

func (l *Loader) publish(event any) {
	if l.bus != nil {
		l.bus.Publish(event)
	}
}

// versionOf extracts a numeric "version" field from a raw target row, if one
// exists, for use as the optimistic concurrency token.
func versionOf(raw json.RawMessage) *int64 {
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil
	}
	switch v := row["version"].(type) {
	case float64:
		n := int64(v)
		return &n
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return &n
		}
	}
	return nil
}
