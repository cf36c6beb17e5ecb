package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

type GateStatus string

const (
	GatePass GateStatus = "pass"
	// GateFlag lets the run proceed but records the gate's concern.
	GateFlag  GateStatus = "flag"
	GateBlock GateStatus = "block"
)

type GateResult struct {
	Gate   string
	Status GateStatus
	Reason string
}

// PreflightGate vets a job before extraction starts. Gates observe; they
// never mutate plan or load state.
type PreflightGate interface {
	Name() string
	Check(ctx context.Context, job Job) GateResult
}

// PostflightGate vets the finished run against its accumulated summary.
type PostflightGate interface {
	Name() string
	Check(ctx context.Context, job Job, summary RunSummary) GateResult
}

func runPreflightGates(ctx context.Context, log *logrus.Entry, job Job, gates []PreflightGate) ([]GateResult, error) {
	results := make([]GateResult, 0, len(gates))
	for _, gate := range gates {
		res := gate.Check(ctx, job)
		if res.Gate == "" {
			res.Gate = gate.Name()
		}
		results = append(results, res)
		switch res.Status {
		case GateBlock:
			return results, &BlockedError{Gate: res.Gate, Reason: res.Reason}
		case GateFlag:
			log.WithFields(logrus.Fields{
				"gate":   res.Gate,
				"reason": res.Reason,
			}).Warn("preflight gate flagged run")
		}
	}
	return results, nil
}

func runPostflightGates(ctx context.Context, log *logrus.Entry, job Job, summary RunSummary, gates []PostflightGate) []GateResult {
	results := make([]GateResult, 0, len(gates))
	for _, gate := range gates {
		res := gate.Check(ctx, job, summary)
		if res.Gate == "" {
			res.Gate = gate.Name()
		}
		results = append(results, res)
		if res.Status != GatePass {
			log.WithFields(logrus.Fields{
				"gate":   res.Gate,
				"status": string(res.Status),
				"reason": res.Reason,
			}).Warn("postflight gate raised")
		}
	}
	return results
}
