package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// syncCurrent rebuilds the "now" projection of one entity from its history:
// the record whose validity window covers now wins; no covering record, or a
// deletion marker, removes the projection. The projection is a cache: it is
// written directly through the CurrentStore and never re-enters the pipeline.
func (e *Engine) syncCurrent(ctx context.Context, entityType string, entityID uuid.UUID) error {
	now := e.clock.Now()

	effective, err := e.history.EffectiveAt(ctx, entityType, entityID, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.metrics.IncSync("error")
		return fmt.Errorf("failed to resolve effective record: %w", err)
	}

	if errors.Is(err, domain.ErrNotFound) || effective.IsDeletion() {
		if err := e.current.Delete(ctx, entityType, entityID); err != nil {
			e.metrics.IncSync("error")
			return err
		}
		e.metrics.IncSync("delete")
		return nil
	}

	existing, err := e.current.Get(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.metrics.IncSync("error")
		return err
	}
	if err == nil && existing.HistoryID == effective.HistoryID &&
		len(existing.Snapshot.ChangedFields(effective.Snapshot)) == 0 {
		e.metrics.IncSync("noop")
		return nil
	}

	record := domain.CurrentRecord{
		EntityType: entityType,
		EntityID:   entityID,
		HistoryID:  effective.HistoryID,
		Snapshot:   effective.Snapshot.Clone(),
		UpdatedAt:  now,
	}
	if err := e.current.Upsert(ctx, record); err != nil {
		e.metrics.IncSync("error")
		return err
	}
	e.metrics.IncSync("upsert")
	return nil
}
