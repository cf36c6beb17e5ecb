package lineage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("lineage row not found")
	// ErrNotOwner is returned when a caller tries to commit or release a
	// reservation it did not win.
	ErrNotOwner = errors.New("reservation owned by another caller")
)

// Repository is the single source of truth for "has this legacy record been
// created". It is the only store whose uniqueness constraint arbitrates races.
type Repository interface {
	// GetBulk fetches lineage rows for all keys in one query. Missing keys
	// are simply absent from the result map.
	GetBulk(ctx context.Context, entityType string, keys []Key) (map[Key]Record, error)

	Get(ctx context.Context, entityType string, key Key) (Record, error)

	// Reserve attempts to insert a reserved row for (entityType, key) owned
	// by ownerToken. Exactly one concurrent caller wins; losers get
	// isWinner=false and no error.
	Reserve(ctx context.Context, entityType string, key Key, ownerToken uuid.UUID) (isWinner bool, err error)

	// Commit transitions the reservation owned by ownerToken to committed
	// with targetID. Returns ErrNotOwner if the row is missing, already
	// committed, or owned by someone else.
	Commit(ctx context.Context, entityType string, key Key, ownerToken uuid.UUID, targetID string) error

	// Release deletes the reservation owned by ownerToken so the key becomes
	// eligible for a future attempt. Releasing a committed row is refused.
	Release(ctx context.Context, entityType string, key Key, ownerToken uuid.UUID) error
}
