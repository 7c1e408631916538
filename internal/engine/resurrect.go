package engine

import (
	"context"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// Resurrect re-creates a previously deleted entity with a specific validity
// window. When validTo is set, a deletion marker at that instant closes the
// window again, so the entity exists only inside [validFrom, validTo).
func (e *Engine) Resurrect(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	validFrom time.Time,
	snapshot domain.Snapshot,
	validTo *time.Time,
	opts WriteOptions,
) (*domain.HistoryRecord, error) {
	opts.EffectiveTime = validFrom
	record, err := e.RecordVersion(ctx, entityType, entityID, snapshot, domain.VersionCreated, opts)
	if err != nil {
		return nil, err
	}

	if validTo != nil {
		closeOpts := opts
		closeOpts.EffectiveTime = *validTo
		if _, err := e.RecordVersion(ctx, entityType, entityID, snapshot, domain.VersionDeleted, closeOpts); err != nil {
			return record, err
		}
	}
	return record, nil
}
