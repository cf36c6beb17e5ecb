package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/persistence"
	"github.com/forgeworks/cutover/modules/migration/services"
)

type loaderFixture struct {
	lineage     *persistence.InmemLineageRepository
	checkpoints *persistence.InmemCheckpointRepository
	quarantine  *persistence.InmemQuarantineRepository
	reviews     *persistence.InmemReviewRepository
	snapshots   *persistence.InmemSnapshotRepository
	boundary    *fakeBoundary
	loader      *services.Loader
}

func setupLoader(t *testing.T, opts services.LoaderOptions) *loaderFixture {
	t.Helper()
	f := &loaderFixture{
		lineage:     persistence.NewInmemLineageRepository(),
		checkpoints: persistence.NewInmemCheckpointRepository(),
		quarantine:  persistence.NewInmemQuarantineRepository(),
		reviews:     persistence.NewInmemReviewRepository(),
		snapshots:   persistence.NewInmemSnapshotRepository(),
		boundary:    newFakeBoundary(),
	}
	f.loader = services.NewLoader(f.lineage, f.checkpoints, f.quarantine, f.reviews, f.snapshots, f.boundary, nil, opts)
	return f
}

func testPlan(actions ...plan.UpsertAction) plan.Plan {
	return plan.Plan{
		JobID:            uuid.New(),
		EntityType:       testEntity,
		TransformVersion: "v1",
		Actions:          actions,
	}
}

func createAction(legacyID string) plan.UpsertAction {
	return plan.UpsertAction{
		Kind:   plan.ActionCreate,
		Key:    lineage.Key{System: testSystem, LegacyID: legacyID},
		Record: plan.TransformedRecord{LegacyID: legacyID, Data: map[string]any{"name": "rec " + legacyID}},
	}
}

func TestLoadPlan_CreatePath(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})

	p := testPlan(createAction("a"), createAction("b"))
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, out := range outcomes {
		assert.Equal(t, plan.StatusLoaded, out.Status)
		assert.NotEmpty(t, out.TargetID)

		rec, err := f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: out.LegacyID})
		require.NoError(t, err)
		assert.True(t, rec.Committed())
		assert.Equal(t, out.TargetID, rec.TargetID)
	}
}

func TestLoadPlan_AtMostOneCreation(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)

	const competitors = 8
	f := setupLoader(t, services.LoaderOptions{CreateWorkers: 2})
	p := testPlan(createAction("contested"))

	var wg sync.WaitGroup
	results := make([][]plan.RecordOutcome, competitors)
	errs := make([]error, competitors)
	for i := 0; i < competitors; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = f.loader.LoadPlan(ctx, p, services.LoadState{})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	loaded, skipped := 0, 0
	for _, outcomes := range results {
		require.Len(t, outcomes, 1)
		switch outcomes[0].Status {
		case plan.StatusLoaded:
			loaded++
		case plan.StatusSkipped:
			skipped++
		default:
			t.Fatalf("unexpected status %s", outcomes[0].Status)
		}
	}
	assert.Equal(t, 1, loaded, "exactly one competitor wins the reservation")
	assert.Equal(t, competitors-1, skipped)

	assert.Equal(t, 1, f.boundary.mutateCount(), "the boundary sees exactly one create")

	rec, err := f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "contested"})
	require.NoError(t, err)
	assert.True(t, rec.Committed())
}

func TestLoadPlan_CreateFailureReleasesReservation(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})
	f.boundary.failWith(testSystem+":a", "validation_failed", "name too long")

	p := testPlan(createAction("a"))
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, plan.StatusQuarantined, outcomes[0].Status)
	assert.Equal(t, plan.ErrorPermanent, outcomes[0].ErrorClass)
	assert.Equal(t, "load.create", outcomes[0].FailureStage)

	// The reservation is gone, so a later attempt can try again.
	_, err = f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "a"})
	assert.ErrorIs(t, err, lineage.ErrNotFound)

	entries, err := f.quarantine.ListOpen(ctx, p.JobID, testEntity, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "validation_failed", entries[0].ErrorCode)
	assert.NotEmpty(t, entries[0].ErrorHash)
	assert.Equal(t, map[string]any{"name": "rec a"}, entries[0].RecordData)
}

func TestLoadPlan_VersionMismatchIsTransient(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})
	f.boundary.failWith(testSystem+":a", "version_mismatch", "row changed")

	p := testPlan(plan.UpsertAction{
		Kind:     plan.ActionUpdate,
		Key:      lineage.Key{System: testSystem, LegacyID: "a"},
		Record:   plan.TransformedRecord{LegacyID: "a", Data: map[string]any{"name": "new"}},
		TargetID: "ent-1",
	})
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, plan.StatusQuarantined, outcomes[0].Status)
	assert.Equal(t, plan.ErrorTransient, outcomes[0].ErrorClass)
	assert.Equal(t, "load.update", outcomes[0].FailureStage)
}

func TestLoadPlan_UpdateSnapshotsBeforeMutation(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})
	f.boundary.rows["ent-1"] = []byte(`{"name":"old","version":3}`)

	p := testPlan(plan.UpsertAction{
		Kind:     plan.ActionUpdate,
		Key:      lineage.Key{System: testSystem, LegacyID: "a"},
		Record:   plan.TransformedRecord{LegacyID: "a", Data: map[string]any{"name": "new"}},
		TargetID: "ent-1",
	})
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, plan.StatusLoaded, outcomes[0].Status)

	snaps := f.snapshots.All()
	require.Len(t, snaps, 1)
	assert.JSONEq(t, `{"name":"old","version":3}`, string(snaps[0].State))
	assert.NotEmpty(t, snaps[0].Patch)

	require.Equal(t, 1, f.boundary.mutateCount())
	require.NotNil(t, f.boundary.calls[0].ExpectedVersion)
	assert.Equal(t, int64(3), *f.boundary.calls[0].ExpectedVersion)
}

func TestLoadPlan_ManualWritesReview(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})

	candidates := []plan.Match{{EntityID: "ent-1", Score: 60}}
	p := testPlan(plan.UpsertAction{
		Kind:       plan.ActionManual,
		Key:        lineage.Key{System: testSystem, LegacyID: "a"},
		Record:     plan.TransformedRecord{LegacyID: "a", Data: map[string]any{"name": "rec a"}},
		Candidates: candidates,
	})
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, plan.StatusManualReview, outcomes[0].Status)

	reviews := f.reviews.All()
	require.Len(t, reviews, 1)
	assert.Equal(t, "a", reviews[0].LegacyID)
	assert.Equal(t, candidates, reviews[0].Candidates)

	assert.Equal(t, 0, f.boundary.mutateCount(), "manual review never touches the boundary")
}

func TestLoadPlan_MixedScenario(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})
	f.boundary.rows["ent-2"] = []byte(`{"name":"bob","version":1}`)
	f.boundary.rows["ent-3"] = []byte(`{"name":"carol ltd","version":7}`)

	p := testPlan(
		createAction("a"),
		plan.UpsertAction{
			Kind:     plan.ActionUpdate,
			Key:      lineage.Key{System: testSystem, LegacyID: "b"},
			Record:   plan.TransformedRecord{LegacyID: "b", Data: map[string]any{"name": "robert"}},
			TargetID: "ent-2",
		},
		plan.UpsertAction{
			Kind:     plan.ActionMerge,
			Key:      lineage.Key{System: testSystem, LegacyID: "c"},
			Record:   plan.TransformedRecord{LegacyID: "c", Data: map[string]any{"name": "carol limited"}},
			TargetID: "ent-3",
			Score:    91,
		},
	)
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, plan.StatusLoaded, outcomes[0].Status)
	assert.Equal(t, plan.ActionCreate, outcomes[0].Action)
	assert.Equal(t, plan.StatusLoaded, outcomes[1].Status)
	assert.Equal(t, plan.ActionUpdate, outcomes[1].Action)
	assert.Equal(t, plan.StatusLoaded, outcomes[2].Status)
	assert.Equal(t, plan.ActionMerge, outcomes[2].Action)

	// Only the create produces lineage; update and merge address existing
	// targets directly.
	rec, err := f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "a"})
	require.NoError(t, err)
	assert.True(t, rec.Committed())

	assert.Len(t, f.snapshots.All(), 2, "update and merge each snapshot their target")
}

func TestLoadPlan_EndOfPlanCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{CheckpointInterval: 0})

	p := testPlan(createAction("a"), createAction("b"))
	_, err := f.loader.LoadPlan(ctx, p, services.LoadState{Cursor: "cur-5", BatchIndex: 2})
	require.NoError(t, err)

	cp, err := f.checkpoints.Load(ctx, p.JobID, testEntity)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LoadedUpTo)
	assert.Equal(t, "cur-5", cp.Cursor)
	assert.Equal(t, 2, cp.BatchIndex)
	assert.Equal(t, "v1", cp.TransformVersion)
	assert.Equal(t, p.Fingerprint(), cp.PlanFingerprint)
}

func TestLoadPlan_ResumeSkipsLoadedPrefix(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupLoader(t, services.LoaderOptions{})

	p := testPlan(createAction("a"), createAction("b"), createAction("c"))

	// First pass: full run, recording final lineage.
	outcomes, err := f.loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	callsAfterFirst := f.boundary.mutateCount()

	cp, err := f.checkpoints.Load(ctx, p.JobID, testEntity)
	require.NoError(t, err)
	require.Equal(t, 3, cp.LoadedUpTo)

	// Resume from the checkpoint: nothing left, no further boundary calls,
	// lineage unchanged.
	resumed, err := f.loader.LoadPlan(ctx, p, services.LoadState{StartAt: cp.LoadedUpTo})
	require.NoError(t, err)
	assert.Empty(t, resumed)
	assert.Equal(t, callsAfterFirst, f.boundary.mutateCount())

	// Resume mid-plan processes only the suffix; the already-committed prefix
	// would lose its reservation anyway.
	partial, err := f.loader.LoadPlan(ctx, p, services.LoadState{StartAt: 2})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, "c", partial[0].LegacyID)
	assert.Equal(t, plan.StatusSkipped, partial[0].Status, "the suffix record was already created by the first pass")
}

func TestLoadPlan_CheckpointIntervalZeroKeepsOnlyFinal(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)

	f := setupLoader(t, services.LoaderOptions{CheckpointInterval: 0})
	countingRepo := &countingCheckpointRepo{inner: f.checkpoints}
	loader := services.NewLoader(f.lineage, countingRepo, f.quarantine, f.reviews, f.snapshots, f.boundary, nil, services.LoaderOptions{CheckpointInterval: 0})

	p := testPlan(
		createAction("a"),
		plan.UpsertAction{Kind: plan.ActionSkip, Key: lineage.Key{System: testSystem, LegacyID: "b"}},
		plan.UpsertAction{Kind: plan.ActionSkip, Key: lineage.Key{System: testSystem, LegacyID: "c"}},
	)
	_, err := loader.LoadPlan(ctx, p, services.LoadState{})
	require.NoError(t, err)
	assert.Equal(t, 1, countingRepo.saves, "interval 0 disables all mid-plan checkpoints")
}

type countingCheckpointRepo struct {
	inner *persistence.InmemCheckpointRepository
	mu    sync.Mutex
	saves int
}

func (r *countingCheckpointRepo) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	r.mu.Lock()
	r.saves++
	r.mu.Unlock()
	return r.inner.Save(ctx, cp)
}

func (r *countingCheckpointRepo) Load(ctx context.Context, jobID uuid.UUID, entityType string) (checkpoint.Checkpoint, error) {
	return r.inner.Load(ctx, jobID, entityType)
}
