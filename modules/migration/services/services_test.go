package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/services"
	"github.com/forgeworks/cutover/pkg/composables"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return composables.WithOrgID(context.Background(), uuid.New())
}

func testCtxWithOrg(orgID uuid.UUID) context.Context {
	return composables.WithOrgID(context.Background(), orgID)
}

// fakeDetector returns pre-configured conflicts keyed by legacy id.
type fakeDetector struct {
	conflicts map[string]plan.Conflict
	calls     int
}

func (d *fakeDetector) DetectBulk(_ context.Context, _ string, records []plan.TransformedRecord) ([]plan.Conflict, error) {
	d.calls++
	var out []plan.Conflict
	for _, rec := range records {
		if c, ok := d.conflicts[rec.LegacyID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeBoundary scripts per-legacy-id mutate results. Unscripted requests
// succeed with a generated entity id.
type fakeBoundary struct {
	mu      sync.Mutex
	results map[string]services.MutateResult
	rows    map[string]json.RawMessage
	calls   []services.MutateRequest
	nextID  int
}

func newFakeBoundary() *fakeBoundary {
	return &fakeBoundary{
		results: map[string]services.MutateResult{},
		rows:    map[string]json.RawMessage{},
	}
}

func (b *fakeBoundary) failWith(idempotencyKey, code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[idempotencyKey] = services.MutateResult{
		Status:       services.MutateError,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

func (b *fakeBoundary) Mutate(_ context.Context, req services.MutateRequest) (services.MutateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	if res, ok := b.results[req.IdempotencyKey]; ok {
		return res, nil
	}
	if req.EntityID != "" {
		return services.MutateResult{Status: services.MutateOK, EntityID: req.EntityID}, nil
	}
	b.nextID++
	return services.MutateResult{Status: services.MutateOK, EntityID: fmt.Sprintf("ent-%d", b.nextID)}, nil
}

func (b *fakeBoundary) ReadRawRow(_ context.Context, _, id string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[id], nil
}

func (b *fakeBoundary) mutateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// fakeExtractor pages through pre-built batches; the cursor is the batch
// index encoded as a string.
type fakeExtractor struct {
	batches [][]services.RawRecord
}

func (e *fakeExtractor) ExtractBatch(_ context.Context, _ string, _ int, cursor string) (services.ExtractBatch, error) {
	idx := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &idx); err != nil {
			return services.ExtractBatch{}, err
		}
	}
	if idx >= len(e.batches) {
		return services.ExtractBatch{}, nil
	}
	return services.ExtractBatch{
		Records:    e.batches[idx],
		NextCursor: fmt.Sprintf("%d", idx+1),
		HasMore:    idx+1 < len(e.batches),
	}, nil
}

// identityTransformer passes records through, taking the legacy id from the
// "id" field.
type identityTransformer struct {
	version string
}

func (t identityTransformer) Transform(_ context.Context, _ string, raw services.RawRecord) (plan.TransformedRecord, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return plan.TransformedRecord{}, fmt.Errorf("record has no id")
	}
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		data[k] = v
	}
	return plan.TransformedRecord{LegacyID: id, Data: data}, nil
}

func (t identityTransformer) Version() string {
	if t.version == "" {
		return "v1"
	}
	return t.version
}

func records(ids ...string) []plan.TransformedRecord {
	out := make([]plan.TransformedRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, plan.TransformedRecord{LegacyID: id, Data: map[string]any{"name": "rec " + id}})
	}
	return out
}
