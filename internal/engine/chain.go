package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// RechainDecision tells the Level 2 writer how to record a window-end change
// made by the chain maintainer.
type RechainDecision int

const (
	// DecisionAppend marks a genuine new fact (a window opened or closed);
	// the meta writer appends a fresh system-time version.
	DecisionAppend RechainDecision = iota
	// DecisionUpdateInPlace marks a refinement: one non-null window end
	// replaced by another. The meta writer corrects the open meta record
	// in place instead of minting a spurious version.
	DecisionUpdateInPlace
)

// rechainChange is one persisted window-end correction.
type rechainChange struct {
	record   domain.HistoryRecord
	decision RechainDecision
}

// rechainHistory enforces strict chaining over the sibling set of one entity:
// every record's valid_to becomes the next record's valid_from (ordered by
// valid_from, history_id), the last record stays open. Only records whose
// valid_to actually changed are persisted, so the pass is idempotent and
// retryable with the same targets after a partial failure.
func (e *Engine) rechainHistory(ctx context.Context, entityType string, entityID uuid.UUID) ([]rechainChange, error) {
	siblings, err := e.history.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sibling set: %w", err)
	}

	var changes []rechainChange
	for i := range siblings {
		var target *time.Time
		if i < len(siblings)-1 {
			next := siblings[i+1].ValidFrom
			target = &next
		}
		if windowEndEqual(siblings[i].ValidTo, target) {
			continue
		}

		decision := DecisionAppend
		if siblings[i].ValidTo != nil && target != nil {
			decision = DecisionUpdateInPlace
		}

		if err := e.history.UpdateValidTo(ctx, siblings[i].HistoryID, target); err != nil {
			return changes, fmt.Errorf("failed to persist valid_to for history %d: %w",
				siblings[i].HistoryID, err)
		}
		siblings[i].ValidTo = target
		changes = append(changes, rechainChange{record: siblings[i], decision: decision})
	}

	e.metrics.IncRechain("history", len(changes))

	if corrupt := verifyHistoryChain(entityType, entityID, siblings); corrupt != nil {
		return changes, corrupt
	}
	return changes, nil
}

// rechainMeta enforces the same chaining invariant over the system-time
// records of one history row.
func (e *Engine) rechainMeta(ctx context.Context, historyID int64) error {
	siblings, err := e.meta.ListByHistory(ctx, historyID)
	if err != nil {
		return fmt.Errorf("failed to load meta sibling set: %w", err)
	}

	writes := 0
	for i := range siblings {
		var target *time.Time
		if i < len(siblings)-1 {
			next := siblings[i+1].SysFrom
			target = &next
		}
		if windowEndEqual(siblings[i].SysTo, target) {
			continue
		}
		if err := e.meta.UpdateSysTo(ctx, siblings[i].MetaID, target); err != nil {
			return fmt.Errorf("failed to persist sys_to for meta %d: %w",
				siblings[i].MetaID, err)
		}
		writes++
	}

	e.metrics.IncRechain("meta", writes)
	return nil
}

// verifyHistoryChain checks the non-overlap/gapless invariant on an already
// rechained (and therefore sorted) sibling set. A violation here means a
// concurrent writer bypassed the per-key lock; the offending record is
// reported, not silently repaired.
func verifyHistoryChain(entityType string, entityID uuid.UUID, siblings []domain.HistoryRecord) *domain.ChainCorruptionError {
	for i := range siblings {
		last := i == len(siblings)-1
		if last {
			if siblings[i].ValidTo != nil {
				return &domain.ChainCorruptionError{
					EntityType: entityType,
					EntityID:   entityID,
					HistoryID:  siblings[i].HistoryID,
					Detail:     "last record in chain has a closed window",
				}
			}
			continue
		}
		if siblings[i].ValidTo == nil || !siblings[i].ValidTo.Equal(siblings[i+1].ValidFrom) {
			return &domain.ChainCorruptionError{
				EntityType: entityType,
				EntityID:   entityID,
				HistoryID:  siblings[i].HistoryID,
				Detail: fmt.Sprintf("valid_to does not meet next valid_from (%s)",
					siblings[i+1].ValidFrom.Format(time.RFC3339Nano)),
			}
		}
	}
	return nil
}

func windowEndEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
