package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/persistence"
	"github.com/forgeworks/cutover/modules/migration/services"
)

type replayFixture struct {
	lineage    *persistence.InmemLineageRepository
	quarantine *persistence.InmemQuarantineRepository
	boundary   *fakeBoundary
	replay     *services.ReplayService
}

func setupReplay(t *testing.T) *replayFixture {
	t.Helper()
	f := &replayFixture{
		lineage:    persistence.NewInmemLineageRepository(),
		quarantine: persistence.NewInmemQuarantineRepository(),
		boundary:   newFakeBoundary(),
	}
	f.replay = services.NewReplayService(f.lineage, f.quarantine, f.boundary, nil)
	return f
}

func seedEntry(t *testing.T, f *replayFixture, ctx context.Context, legacyID string) uuid.UUID {
	t.Helper()
	id, err := f.quarantine.Upsert(ctx, quarantine.Entry{
		JobID:        uuid.New(),
		EntityType:   testEntity,
		Key:          lineage.Key{System: testSystem, LegacyID: legacyID},
		RecordData:   map[string]any{"name": "rec " + legacyID},
		FailureStage: "load.create",
		ErrorClass:   plan.ErrorTransient,
		ErrorCode:    "timeout",
	})
	require.NoError(t, err)
	return id
}

func TestReplay_Success(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupReplay(t)
	id := seedEntry(t, f, ctx, "a")

	outcome, err := f.replay.ReplayQuarantinedRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusLoaded, outcome.Status)
	assert.NotEmpty(t, outcome.TargetID)

	rec, err := f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "a"})
	require.NoError(t, err)
	assert.True(t, rec.Committed())

	entry, err := f.quarantine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, quarantine.StatusResolved, entry.Status)
}

func TestReplay_CommittedLineageIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupReplay(t)
	id := seedEntry(t, f, ctx, "a")

	// The entity was created by someone else after quarantining.
	key := lineage.Key{System: testSystem, LegacyID: "a"}
	token := uuid.New()
	winner, err := f.lineage.Reserve(ctx, testEntity, key, token)
	require.NoError(t, err)
	require.True(t, winner)
	require.NoError(t, f.lineage.Commit(ctx, testEntity, key, token, "ent-existing"))

	outcome, err := f.replay.ReplayQuarantinedRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusSkipped, outcome.Status)
	assert.Equal(t, "ent-existing", outcome.TargetID)
	assert.Equal(t, 0, f.boundary.mutateCount(), "no target side effects on idempotent replay")
}

func TestReplay_LosingReservationIsSkipped(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupReplay(t)
	id := seedEntry(t, f, ctx, "a")

	// Another process holds a live reservation.
	winner, err := f.lineage.Reserve(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "a"}, uuid.New())
	require.NoError(t, err)
	require.True(t, winner)

	outcome, err := f.replay.ReplayQuarantinedRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusSkipped, outcome.Status)
	assert.Equal(t, 0, f.boundary.mutateCount())

	entry, err := f.quarantine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, quarantine.StatusQuarantined, entry.Status, "a skip is not a success")
}

func TestReplay_FailureRefreshesEntry(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupReplay(t)
	id := seedEntry(t, f, ctx, "a")
	f.boundary.failWith(testSystem+":a", "validation_failed", "still broken")

	outcome, err := f.replay.ReplayQuarantinedRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusQuarantined, outcome.Status)
	assert.Equal(t, plan.ErrorPermanent, outcome.ErrorClass)
	assert.Equal(t, "replay.create", outcome.FailureStage)

	// The reservation was released so a later replay can retry.
	_, err = f.lineage.Get(ctx, testEntity, lineage.Key{System: testSystem, LegacyID: "a"})
	assert.ErrorIs(t, err, lineage.ErrNotFound)

	entry, err := f.quarantine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "validation_failed", entry.ErrorCode)
	assert.Equal(t, "replay.create", entry.FailureStage)
	assert.Equal(t, quarantine.StatusQuarantined, entry.Status)
}

func TestReplay_UnknownEntry(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	f := setupReplay(t)

	_, err := f.replay.ReplayQuarantinedRecord(ctx, uuid.New())
	assert.ErrorIs(t, err, quarantine.ErrNotFound)
}
