package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/services"
)

// Candidate is one existing target record offered for matching. Fields holds
// the display values the detector scores against.
type Candidate struct {
	EntityID string
	Fields   map[string]string
}

// CandidateFetcher returns plausible existing records for a batch, usually
// backed by a target-store query. Over-fetching is fine; the detector filters
// and ranks.
type CandidateFetcher func(ctx context.Context, entityType string, records []plan.TransformedRecord) ([]Candidate, error)

type Options struct {
	// MatchFields are the field names compared between transformed records
	// and candidates. Empty means every candidate field.
	MatchFields []string
	// MinScore drops matches below this 0-100 similarity floor.
	MinScore float64
	// MaxCandidates caps the match list per record.
	MaxCandidates int
}

func (o *Options) setDefaults() {
	if o.MinScore <= 0 {
		o.MinScore = 40
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 5
	}
}

// FuzzyDetector is the reference ConflictDetector: normalized Levenshtein
// similarity over candidate display fields, averaged per candidate. Match
// ordering is deterministic so plan fingerprints stay stable across runs.
type FuzzyDetector struct {
	fetch CandidateFetcher
	opts  Options
}

var _ services.ConflictDetector = (*FuzzyDetector)(nil)

func NewFuzzyDetector(fetch CandidateFetcher, opts Options) *FuzzyDetector {
	opts.setDefaults()
	return &FuzzyDetector{fetch: fetch, opts: opts}
}

func (d *FuzzyDetector) DetectBulk(ctx context.Context, entityType string, records []plan.TransformedRecord) ([]plan.Conflict, error) {
	if len(records) == 0 {
		return nil, nil
	}
	candidates, err := d.fetch(ctx, entityType, records)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	conflicts := make([]plan.Conflict, 0, len(records))
	for _, rec := range records {
		matches := d.rank(rec, candidates)
		if len(matches) == 0 {
			continue
		}
		conflicts = append(conflicts, plan.Conflict{LegacyID: rec.LegacyID, Matches: matches})
	}
	return conflicts, nil
}

func (d *FuzzyDetector) rank(rec plan.TransformedRecord, candidates []Candidate) []plan.Match {
	var matches []plan.Match
	for _, cand := range candidates {
		score, explanations := d.score(rec, cand)
		if score < d.opts.MinScore {
			continue
		}
		matches = append(matches, plan.Match{
			EntityID:     cand.EntityID,
			Score:        score,
			Explanations: explanations,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	if len(matches) > d.opts.MaxCandidates {
		matches = matches[:d.opts.MaxCandidates]
	}
	return matches
}

// score averages per-field similarity over the fields both sides carry.
// A candidate sharing no comparable fields scores zero.
func (d *FuzzyDetector) score(rec plan.TransformedRecord, cand Candidate) (float64, []string) {
	fields := d.opts.MatchFields
	if len(fields) == 0 {
		fields = make([]string, 0, len(cand.Fields))
		for name := range cand.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)
	}

	var total float64
	var counted int
	var explanations []string
	for _, name := range fields {
		want, ok := cand.Fields[name]
		if !ok || want == "" {
			continue
		}
		got := stringField(rec.Data, name)
		if got == "" {
			continue
		}
		s := similarity(got, want)
		total += s
		counted++
		explanations = append(explanations, fmt.Sprintf("%s: %.0f%% (%q vs %q)", name, s, got, want))
	}
	if counted == 0 {
		return 0, nil
	}
	return total / float64(counted), explanations
}

// similarity is a 0-100 score from normalized Levenshtein distance, case and
// diacritic folded.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 100
	}
	longest := math.Max(float64(len([]rune(a))), float64(len([]rune(b))))
	if longest == 0 {
		return 0
	}
	dist := float64(fuzzy.LevenshteinDistance(a, b))
	score := 100 * (1 - dist/longest)
	if score < 0 {
		return 0
	}
	return score
}

func stringField(data map[string]any, name string) string {
	v, ok := data[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
