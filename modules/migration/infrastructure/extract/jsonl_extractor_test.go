package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/cutover/modules/migration/infrastructure/extract"
)

func writeExport(t *testing.T, lines string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customer.jsonl"), []byte(lines), 0o644))
	return dir
}

func TestExtractBatch_Paging(t *testing.T) {
	t.Parallel()

	dir := writeExport(t, `{"id":"a"}
{"id":"b"}
{"id":"c"}
`)
	e := extract.NewJSONLExtractor(dir)

	first, err := e.ExtractBatch(context.Background(), "customer", 2, "")
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "a", first.Records[0]["id"])
	assert.Equal(t, "b", first.Records[1]["id"])
	assert.True(t, first.HasMore)

	second, err := e.ExtractBatch(context.Background(), "customer", 2, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "c", second.Records[0]["id"])
	assert.False(t, second.HasMore)
}

func TestExtractBatch_CursorIsResumable(t *testing.T) {
	t.Parallel()

	dir := writeExport(t, `{"id":"a"}
{"id":"b"}
{"id":"c"}
`)
	e := extract.NewJSONLExtractor(dir)

	first, err := e.ExtractBatch(context.Background(), "customer", 1, "")
	require.NoError(t, err)

	// Re-reading from the same cursor yields the same page.
	again, err := e.ExtractBatch(context.Background(), "customer", 1, "")
	require.NoError(t, err)
	assert.Equal(t, first.Records, again.Records)
	assert.Equal(t, first.NextCursor, again.NextCursor)

	next, err := e.ExtractBatch(context.Background(), "customer", 1, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, next.Records, 1)
	assert.Equal(t, "b", next.Records[0]["id"])
}

func TestExtractBatch_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	dir := writeExport(t, `{"id":"a"}

{"id":"b"}
`)
	e := extract.NewJSONLExtractor(dir)

	batch, err := e.ExtractBatch(context.Background(), "customer", 10, "")
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
}

func TestExtractBatch_Errors(t *testing.T) {
	t.Parallel()

	dir := writeExport(t, "not json\n")
	e := extract.NewJSONLExtractor(dir)

	_, err := e.ExtractBatch(context.Background(), "customer", 10, "")
	require.Error(t, err)

	_, err = e.ExtractBatch(context.Background(), "missing", 10, "")
	require.Error(t, err)

	_, err = e.ExtractBatch(context.Background(), "customer", 10, "bogus")
	require.Error(t, err)
}
