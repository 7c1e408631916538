package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotTracked is returned when an operation targets an entity type that
	// was never registered with the engine.
	ErrNotTracked = errors.New("entity type is not tracked")

	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRegistryFrozen is returned when Register is called after the registry
	// has been frozen for runtime use.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// ChainCorruptionError reports a sibling set that violates the strict chaining
// invariant after a rechain pass. The engine does not silently re-repair it:
// a violation at this point means a writer bypassed the per-key lock, and
// masking that would hide the locking bug from operators.
type ChainCorruptionError struct {
	EntityType string
	EntityID   uuid.UUID
	HistoryID  int64
	Detail     string
}

func (e *ChainCorruptionError) Error() string {
	return fmt.Sprintf(
		"chain corruption for %s/%s (history_id=%d): %s",
		e.EntityType, e.EntityID, e.HistoryID, e.Detail,
	)
}
