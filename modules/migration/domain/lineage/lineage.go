package lineage

import (
	"time"

	"github.com/google/uuid"
)

// Key is the stable external identity of a source record. Immutable once
// observed.
type Key struct {
	System   string
	LegacyID string
}

type State string

const (
	// StateReserved marks a row claimed by exactly one in-flight create
	// attempt. Reservations arbitrate races; they are not permanent locks.
	StateReserved State = "reserved"
	// StateCommitted marks a row whose target entity exists. A row moves
	// reserved -> committed exactly once and never back.
	StateCommitted State = "committed"
)

// Record links a legacy record to its target entity. For a given
// (orgID, entityType, key) there is at most one row and at most one committed
// target id ever assigned.
type Record struct {
	OrgID      uuid.UUID
	EntityType string
	Key        Key
	TargetID   string
	State      State
	// OwnerToken identifies the reservation winner; only that caller may
	// commit or release the row while it is reserved.
	OwnerToken  uuid.UUID
	ReservedAt  time.Time
	CommittedAt time.Time
}

func (r Record) Committed() bool {
	return r.State == StateCommitted
}
