package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/lineage"
)

// TransformedRecord is the immutable output of the transform stage for one
// legacy record.
type TransformedRecord struct {
	LegacyID string
	Data     map[string]any
}

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionMerge  ActionKind = "merge"
	ActionSkip   ActionKind = "skip"
	ActionManual ActionKind = "manual"
)

// Match is one ranked conflict candidate, highest score first by convention.
type Match struct {
	EntityID     string
	Score        float64
	Explanations []string
}

// Conflict is the bulk-detection result for one record. Absence of a Conflict
// for a record means no candidate matched at all.
type Conflict struct {
	LegacyID string
	Matches  []Match
}

func (c Conflict) Best() (Match, bool) {
	if len(c.Matches) == 0 {
		return Match{}, false
	}
	return c.Matches[0], true
}

// UpsertAction is one planned step. Kind decides which of the optional fields
// carry data: TargetID for update/merge, Candidates for manual, Reason for
// skip.
type UpsertAction struct {
	Kind       ActionKind
	Key        lineage.Key
	Record     TransformedRecord
	TargetID   string
	Candidates []Match
	Reason     string
	Score      float64
}

// Plan is an ordered list of actions, one per input record, order preserved.
type Plan struct {
	JobID            uuid.UUID
	EntityType       string
	TransformVersion string
	Actions          []UpsertAction
}

// Fingerprint identifies this exact plan. Checkpoints are only trusted for
// resume when both the transform version and the fingerprint still match.
func (p Plan) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", p.EntityType, p.TransformVersion)
	for _, a := range p.Actions {
		fmt.Fprintf(h, "%s|%s|%s|%s\n", a.Kind, a.Key.System, a.Key.LegacyID, a.TargetID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type OutcomeStatus string

const (
	StatusLoaded       OutcomeStatus = "loaded"
	StatusSkipped      OutcomeStatus = "skipped"
	StatusManualReview OutcomeStatus = "manual_review"
	StatusQuarantined  OutcomeStatus = "quarantined"
)

type ErrorClass string

const (
	// ErrorTransient failures may succeed on retry without data changes,
	// e.g. an optimistic-lock conflict or a timeout.
	ErrorTransient ErrorClass = "transient"
	// ErrorPermanent failures will not succeed on naive retry, e.g. a
	// validation rejection.
	ErrorPermanent ErrorClass = "permanent"
)

// RecordOutcome is the terminal result of attempting one action. Exactly one
// outcome is produced per record per load call.
type RecordOutcome struct {
	EntityType   string
	LegacyID     string
	Status       OutcomeStatus
	Action       ActionKind
	TargetID     string
	ErrorClass   ErrorClass
	ErrorCode    string
	FailureStage string
}

// ErrorHash fingerprints failure content so a replay can tell whether it
// would hit the identical failure again.
func ErrorHash(stage, code, message string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{stage, code, message}, "\x00")))
	return hex.EncodeToString(h[:])
}
