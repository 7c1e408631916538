package engine

import (
	"context"
	"fmt"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resync rebuilds one entity's current projection from its history. This is
// the standalone retry path for sync failures that outlived their write.
func (e *Engine) Resync(ctx context.Context, entityType string, entityID uuid.UUID) error {
	if !e.registry.IsTracked(entityType) {
		return fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}

	release, err := e.locks.Acquire(ctx, lockKey(entityType, entityID))
	if err != nil {
		return err
	}
	defer release()

	return e.syncCurrent(ctx, entityType, entityID)
}

// ResyncAll rebuilds the current projection of every entity of a type.
// Entities are processed concurrently but each under its own key lock.
func (e *Engine) ResyncAll(ctx context.Context, entityType string) error {
	if !e.registry.IsTracked(entityType) {
		return fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}

	ids, err := e.history.ListEntityIDs(ctx, entityType)
	if err != nil {
		return fmt.Errorf("failed to list entities for resync: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			if err := e.Resync(ctx, entityType, id); err != nil {
				e.log.Error("resync failed",
					zap.String("entity_type", entityType),
					zap.String("entity_id", id.String()),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
