package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"go.uber.org/zap"
)

// DeleteHistoryRecord physically removes one history row (not a deletion
// marker, an actual purge) and restores chain contiguity across the gap: the
// previous record's window is extended to the next record's start, or
// reopened when no successor remains. Pending activations tied to the
// removed row are cancelled first so no orphaned trigger fires later.
func (e *Engine) DeleteHistoryRecord(ctx context.Context, historyID int64) error {
	removed, err := e.history.GetByID(ctx, historyID)
	if err != nil {
		return err
	}
	if !e.registry.IsTracked(removed.EntityType) {
		return fmt.Errorf("%s: %w", removed.EntityType, domain.ErrNotTracked)
	}

	release, err := e.locks.Acquire(ctx, lockKey(removed.EntityType, removed.EntityID))
	if err != nil {
		return err
	}
	defer release()

	e.cancelScheduledFor(ctx, historyID)

	if err := e.history.Delete(ctx, historyID); err != nil {
		return err
	}

	e.repairChain(ctx, removed)

	if err := e.syncCurrent(ctx, removed.EntityType, removed.EntityID); err != nil {
		e.log.Error("sync after deletion failed",
			zap.String("entity_type", removed.EntityType),
			zap.Error(err))
	}
	return nil
}

// repairChain relinks the neighbors of a removed record: previous takes over
// the removed window up to the next record's start (or reopens).
func (e *Engine) repairChain(ctx context.Context, removed domain.HistoryRecord) {
	siblings, err := e.history.ListByEntity(ctx, removed.EntityType, removed.EntityID)
	if err != nil {
		e.log.Error("failed to load siblings for chain repair", zap.Error(err))
		return
	}

	var previous, next *domain.HistoryRecord
	for i := range siblings {
		if siblings[i].ValidFrom.Before(removed.ValidFrom) {
			previous = &siblings[i]
		} else if siblings[i].ValidFrom.After(removed.ValidFrom) && next == nil {
			next = &siblings[i]
		}
	}
	if previous == nil {
		return
	}

	var target *time.Time
	if next != nil {
		target = &next.ValidFrom
	}
	if windowEndEqual(previous.ValidTo, target) {
		return
	}

	decision := DecisionAppend
	if previous.ValidTo != nil && target != nil {
		decision = DecisionUpdateInPlace
	}

	if err := e.history.UpdateValidTo(ctx, previous.HistoryID, target); err != nil {
		e.log.Error("failed to relink previous record",
			zap.Int64("history_id", previous.HistoryID), zap.Error(err))
		return
	}
	e.metrics.IncRechain("history", 1)

	updated := *previous
	updated.ValidTo = target
	e.writeMeta(ctx, updated, decision, e.clock.Now())
}
