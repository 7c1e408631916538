package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// Tracked binds a Go struct type to one tracked entity type, converting
// between the struct and the engine's snapshot representation through its
// JSON field set. It gives callers a typed surface over the generic engine.
type Tracked[T any] struct {
	engine     *Engine
	entityType string
}

// NewTracked registers the entity type and returns its typed handle.
func NewTracked[T any](e *Engine, entityType string) (*Tracked[T], error) {
	if err := e.registry.Register(entityType); err != nil {
		return nil, err
	}
	return &Tracked[T]{engine: e, entityType: entityType}, nil
}

// Record writes a new version of the entity.
func (t *Tracked[T]) Record(ctx context.Context, entityID uuid.UUID, value T, versionType domain.VersionType, opts WriteOptions) (*domain.HistoryRecord, error) {
	snapshot, err := toSnapshot(value)
	if err != nil {
		return nil, err
	}
	return t.engine.RecordVersion(ctx, t.entityType, entityID, snapshot, versionType, opts)
}

// Delete writes a deletion marker for the entity.
func (t *Tracked[T]) Delete(ctx context.Context, entityID uuid.UUID, opts WriteOptions) (*domain.HistoryRecord, error) {
	return t.engine.RecordVersion(ctx, t.entityType, entityID, domain.Snapshot{}, domain.VersionDeleted, opts)
}

// Current reads the entity's "now" projection as the struct type. Returns
// nil when the entity is not currently valid.
func (t *Tracked[T]) Current(ctx context.Context, entityID uuid.UUID) (*T, error) {
	record, err := t.engine.Current(ctx, t.entityType, entityID)
	if err != nil || record == nil {
		return nil, err
	}
	return fromSnapshot[T](record.Snapshot)
}

// AsOfValid returns the typed values of all entities valid at the instant.
func (t *Tracked[T]) AsOfValid(ctx context.Context, at time.Time) ([]T, error) {
	records, err := t.engine.AsOfValid(ctx, t.entityType, at)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(records))
	for _, record := range records {
		value, err := fromSnapshot[T](record.Snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, *value)
	}
	return out, nil
}

func toSnapshot(value any) (domain.Snapshot, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tracked value: %w", err)
	}
	return domain.SnapshotFromJSONB(data)
}

func fromSnapshot[T any](snapshot domain.Snapshot) (*T, error) {
	data, err := snapshot.MarshalJSONB()
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tracked value: %w", err)
	}
	return &value, nil
}
