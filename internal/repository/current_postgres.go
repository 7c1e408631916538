package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresCurrentStore implements CurrentStore over the current_records table.
type postgresCurrentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCurrentStore creates a Postgres-backed current-projection store.
func NewPostgresCurrentStore(pool *pgxpool.Pool) CurrentStore {
	return &postgresCurrentStore{pool: pool}
}

func (s *postgresCurrentStore) Get(ctx context.Context, entityType string, entityID uuid.UUID) (domain.CurrentRecord, error) {
	var (
		record   domain.CurrentRecord
		snapshot []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT entity_type, entity_id, history_id, snapshot, updated_at
		FROM current_records
		WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&record.EntityType, &record.EntityID, &record.HistoryID, &snapshot, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CurrentRecord{}, domain.ErrNotFound
		}
		return domain.CurrentRecord{}, fmt.Errorf("failed to get current record: %w", err)
	}

	record.Snapshot, err = domain.SnapshotFromJSONB(snapshot)
	if err != nil {
		return domain.CurrentRecord{}, err
	}
	return record, nil
}

func (s *postgresCurrentStore) Upsert(ctx context.Context, record domain.CurrentRecord) error {
	snapshot, err := record.Snapshot.MarshalJSONB()
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO current_records (entity_type, entity_id, history_id, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id)
		DO UPDATE SET history_id = $3, snapshot = $4, updated_at = $5`,
		record.EntityType, record.EntityID, record.HistoryID, snapshot, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert current record: %w", err)
	}
	return nil
}

func (s *postgresCurrentStore) Delete(ctx context.Context, entityType string, entityID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM current_records WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete current record: %w", err)
	}
	return nil
}
