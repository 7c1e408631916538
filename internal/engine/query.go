package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// AsOfValid answers "what was true at the instant": all history records of
// the entity type whose validity window contains it. Deletion markers are
// excluded: a deleted entity is absent at that instant, not a queryable fact.
func (e *Engine) AsOfValid(ctx context.Context, entityType string, at time.Time) ([]domain.HistoryRecord, error) {
	if !e.registry.IsTracked(entityType) {
		return nil, fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}
	return e.history.AsOf(ctx, entityType, at)
}

// AsOfSystem answers "what did the system know at the instant": all meta
// records of the entity type whose system-time window contains it.
func (e *Engine) AsOfSystem(ctx context.Context, entityType string, at time.Time) ([]domain.MetaRecord, error) {
	if !e.registry.IsTracked(entityType) {
		return nil, fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}
	return e.meta.AsOf(ctx, entityType, at)
}

// Current reads the entity's "now" projection. Returns nil when the entity
// has no currently valid record (deleted, or not yet activated).
func (e *Engine) Current(ctx context.Context, entityType string, entityID uuid.UUID) (*domain.CurrentRecord, error) {
	if !e.registry.IsTracked(entityType) {
		return nil, fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}
	record, err := e.current.Get(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// History returns the full valid-time chain of one entity, oldest first.
func (e *Engine) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.HistoryRecord, error) {
	if !e.registry.IsTracked(entityType) {
		return nil, fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}
	return e.history.ListByEntity(ctx, entityType, entityID)
}

// SystemHistory returns the full system-time lineage of one history record,
// oldest first.
func (e *Engine) SystemHistory(ctx context.Context, historyID int64) ([]domain.MetaRecord, error) {
	return e.meta.ListByHistory(ctx, historyID)
}

// Timeline builds the presentation shape for one entity: every history
// record with its nested system-time history.
func (e *Engine) Timeline(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.TimelineEntry, error) {
	records, err := e.History(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TimelineEntry, 0, len(records))
	for _, record := range records {
		meta, err := e.meta.ListByHistory(ctx, record.HistoryID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.NewTimelineEntry(record, meta))
	}
	return out, nil
}
