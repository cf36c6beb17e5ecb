package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/audit"
	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
	"github.com/forgeworks/cutover/modules/migration/domain/quarantine"
	"github.com/forgeworks/cutover/pkg/composables"
)

// In-memory repository implementations. They honor the same org scoping and
// reservation semantics as the Postgres ones and back unit tests and dry runs.

type lineageMapKey struct {
	orgID      uuid.UUID
	entityType string
	key        lineage.Key
}

type InmemLineageRepository struct {
	mu   sync.Mutex
	rows map[lineageMapKey]lineage.Record
}

func NewInmemLineageRepository() *InmemLineageRepository {
	return &InmemLineageRepository{rows: make(map[lineageMapKey]lineage.Record)}
}

func (r *InmemLineageRepository) GetBulk(ctx context.Context, entityType string, keys []lineage.Key) (map[lineage.Key]lineage.Record, error) {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[lineage.Key]lineage.Record, len(keys))
	for _, k := range keys {
		if rec, ok := r.rows[lineageMapKey{orgID, entityType, k}]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (r *InmemLineageRepository) Get(ctx context.Context, entityType string, key lineage.Key) (lineage.Record, error) {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return lineage.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[lineageMapKey{orgID, entityType, key}]
	if !ok {
		return lineage.Record{}, lineage.ErrNotFound
	}
	return rec, nil
}

func (r *InmemLineageRepository) Reserve(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID) (bool, error) {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	mk := lineageMapKey{orgID, entityType, key}
	if _, exists := r.rows[mk]; exists {
		return false, nil
	}
	r.rows[mk] = lineage.Record{
		OrgID:      orgID,
		EntityType: entityType,
		Key:        key,
		State:      lineage.StateReserved,
		OwnerToken: ownerToken,
		ReservedAt: time.Now(),
	}
	return true, nil
}

func (r *InmemLineageRepository) Commit(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID, targetID string) error {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	mk := lineageMapKey{orgID, entityType, key}
	rec, ok := r.rows[mk]
	if !ok || rec.State != lineage.StateReserved || rec.OwnerToken != ownerToken {
		return lineage.ErrNotOwner
	}
	rec.State = lineage.StateCommitted
	rec.TargetID = targetID
	rec.CommittedAt = time.Now()
	r.rows[mk] = rec
	return nil
}

func (r *InmemLineageRepository) Release(ctx context.Context, entityType string, key lineage.Key, ownerToken uuid.UUID) error {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	mk := lineageMapKey{orgID, entityType, key}
	rec, ok := r.rows[mk]
	if !ok || rec.State != lineage.StateReserved || rec.OwnerToken != ownerToken {
		return lineage.ErrNotOwner
	}
	delete(r.rows, mk)
	return nil
}

type checkpointMapKey struct {
	orgID      uuid.UUID
	jobID      uuid.UUID
	entityType string
}

type InmemCheckpointRepository struct {
	mu   sync.Mutex
	rows map[checkpointMapKey]checkpoint.Checkpoint
}

func NewInmemCheckpointRepository() *InmemCheckpointRepository {
	return &InmemCheckpointRepository{rows: make(map[checkpointMapKey]checkpoint.Checkpoint)}
}

func (r *InmemCheckpointRepository) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp.UpdatedAt = time.Now()
	r.rows[checkpointMapKey{orgID, cp.JobID, cp.EntityType}] = cp
	return nil
}

func (r *InmemCheckpointRepository) Load(ctx context.Context, jobID uuid.UUID, entityType string) (checkpoint.Checkpoint, error) {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp, ok := r.rows[checkpointMapKey{orgID, jobID, entityType}]
	if !ok {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

type quarantineNaturalKey struct {
	orgID      uuid.UUID
	jobID      uuid.UUID
	entityType string
	key        lineage.Key
}

type InmemQuarantineRepository struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]quarantine.Entry
	byKey map[quarantineNaturalKey]uuid.UUID
}

func NewInmemQuarantineRepository() *InmemQuarantineRepository {
	return &InmemQuarantineRepository{
		byID:  make(map[uuid.UUID]quarantine.Entry),
		byKey: make(map[quarantineNaturalKey]uuid.UUID),
	}
}

func (r *InmemQuarantineRepository) Upsert(ctx context.Context, e quarantine.Entry) (uuid.UUID, error) {
	orgID, err := composables.UseOrgID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	nk := quarantineNaturalKey{orgID, e.JobID, e.EntityType, e.Key}
	id, exists := r.byKey[nk]
	if !exists {
		id = uuid.New()
		r.byKey[nk] = id
		e.CreatedAt = time.Now()
	} else {
		e.CreatedAt = r.byID[id].CreatedAt
	}
	e.ID = id
	e.Status = quarantine.StatusQuarantined
	e.ResolvedAt = time.Time{}
	r.byID[id] = e
	return id, nil
}

func (r *InmemQuarantineRepository) Get(ctx context.Context, id uuid.UUID) (quarantine.Entry, error) {
	if _, err := composables.UseOrgID(ctx); err != nil {
		return quarantine.Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return quarantine.Entry{}, quarantine.ErrNotFound
	}
	return e, nil
}

func (r *InmemQuarantineRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	if _, err := composables.UseOrgID(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return quarantine.ErrNotFound
	}
	e.Status = quarantine.StatusResolved
	e.ResolvedAt = time.Now()
	r.byID[id] = e
	return nil
}

func (r *InmemQuarantineRepository) ListOpen(ctx context.Context, jobID uuid.UUID, entityType string, limit int) ([]quarantine.Entry, error) {
	if _, err := composables.UseOrgID(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []quarantine.Entry
	for _, e := range r.byID {
		if e.JobID == jobID && e.EntityType == entityType && e.Status == quarantine.StatusQuarantined {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type InmemExplanationRepository struct {
	mu   sync.Mutex
	rows []audit.MergeExplanation
}

func NewInmemExplanationRepository() *InmemExplanationRepository {
	return &InmemExplanationRepository{}
}

func (r *InmemExplanationRepository) Append(_ context.Context, e audit.MergeExplanation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.CreatedAt = time.Now()
	r.rows = append(r.rows, e)
	return nil
}

func (r *InmemExplanationRepository) ListByJob(_ context.Context, jobID uuid.UUID, entityType string) ([]audit.MergeExplanation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.MergeExplanation
	for _, e := range r.rows {
		if e.JobID == jobID && e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

type InmemReviewRepository struct {
	mu   sync.Mutex
	rows []audit.ConflictReview
}

func NewInmemReviewRepository() *InmemReviewRepository {
	return &InmemReviewRepository{}
}

func (r *InmemReviewRepository) Save(_ context.Context, rev audit.ConflictReview) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev.ID = uuid.New()
	rev.CreatedAt = time.Now()
	r.rows = append(r.rows, rev)
	return rev.ID, nil
}

func (r *InmemReviewRepository) All() []audit.ConflictReview {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.ConflictReview, len(r.rows))
	copy(out, r.rows)
	return out
}

type InmemSnapshotRepository struct {
	mu   sync.Mutex
	rows []audit.Snapshot
}

func NewInmemSnapshotRepository() *InmemSnapshotRepository {
	return &InmemSnapshotRepository{}
}

func (r *InmemSnapshotRepository) Save(_ context.Context, s audit.Snapshot) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	r.rows = append(r.rows, s)
	return s.ID, nil
}

func (r *InmemSnapshotRepository) All() []audit.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Snapshot, len(r.rows))
	copy(out, r.rows)
	return out
}
