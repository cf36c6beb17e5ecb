// Package extract provides the file-backed reference Extractor: one JSON
// Lines file per entity type, paged by line offset.
package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gerrors "github.com/go-faster/errors"

	"github.com/forgeworks/cutover/modules/migration/services"
)

// JSONLExtractor reads <dir>/<entityType>.jsonl. The cursor is the decimal
// line offset of the next unread record, so any previously returned cursor
// resumes exactly where it left off.
type JSONLExtractor struct {
	dir string
}

var _ services.Extractor = (*JSONLExtractor)(nil)

func NewJSONLExtractor(dir string) *JSONLExtractor {
	return &JSONLExtractor{dir: dir}
}

func (e *JSONLExtractor) ExtractBatch(ctx context.Context, entityType string, batchSize int, cursor string) (services.ExtractBatch, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	offset, err := parseCursor(cursor)
	if err != nil {
		return services.ExtractBatch{}, err
	}

	path := filepath.Join(e.dir, entityType+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return services.ExtractBatch{}, gerrors.Wrapf(err, "open legacy export %s", path)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	line := 0
	records := make([]services.RawRecord, 0, batchSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return services.ExtractBatch{}, err
		}
		line++
		if line <= offset {
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec services.RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return services.ExtractBatch{}, gerrors.Wrapf(err, "%s line %d", path, line)
		}
		records = append(records, rec)
		if len(records) == batchSize {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return services.ExtractBatch{}, gerrors.Wrapf(err, "read %s", path)
	}

	hasMore := len(records) == batchSize && scanner.Scan()
	return services.ExtractBatch{
		Records:    records,
		NextCursor: strconv.Itoa(line),
		HasMore:    hasMore,
	}, nil
}

func parseCursor(cursor string) (int, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, gerrors.Errorf("invalid cursor %q", cursor)
	}
	return offset, nil
}
