package services

import (
	"fmt"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

type invalidJobError struct{ msg string }

func (e invalidJobError) Error() string { return "invalid job: " + e.msg }

func ErrInvalidJob(msg string) error { return invalidJobError{msg: msg} }

// BlockedError is returned when a preflight gate refuses the run before any
// extraction begins.
type BlockedError struct {
	Gate   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("run blocked by gate %s: %s", e.Gate, e.Reason)
}

// transientCodes are boundary error codes that may succeed on retry without
// data changes. Everything else is treated as permanent.
var transientCodes = map[string]struct{}{
	"version_mismatch": {},
	"timeout":          {},
	"rate_limited":     {},
	"unavailable":      {},
	"deadlock":         {},
}

func classifyErrorCode(code string) plan.ErrorClass {
	if _, ok := transientCodes[code]; ok {
		return plan.ErrorTransient
	}
	return plan.ErrorPermanent
}
