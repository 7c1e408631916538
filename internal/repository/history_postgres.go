package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresHistoryStore implements HistoryStore over the history_records table.
type postgresHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryStore creates a Postgres-backed history store.
func NewPostgresHistoryStore(pool *pgxpool.Pool) HistoryStore {
	return &postgresHistoryStore{pool: pool}
}

const historyColumns = `history_id, entity_type, entity_id, valid_from, valid_to,
	version_type, change_reason, actor, snapshot`

func (s *postgresHistoryStore) Insert(ctx context.Context, record *domain.HistoryRecord) error {
	snapshot, err := record.Snapshot.MarshalJSONB()
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO history_records
			(entity_type, entity_id, valid_from, valid_to, version_type, change_reason, actor, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING history_id`,
		record.EntityType, record.EntityID, record.ValidFrom, record.ValidTo,
		string(record.VersionType), record.ChangeReason, record.Actor, snapshot,
	).Scan(&record.HistoryID)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

func (s *postgresHistoryStore) UpdateValidTo(ctx context.Context, historyID int64, validTo *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE history_records SET valid_to = $2 WHERE history_id = $1`,
		historyID, validTo,
	)
	if err != nil {
		return fmt.Errorf("failed to update valid_to: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *postgresHistoryStore) GetByID(ctx context.Context, historyID int64) (domain.HistoryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+historyColumns+`
		FROM history_records
		WHERE history_id = $1`,
		historyID,
	)
	return scanHistory(row)
}

func (s *postgresHistoryStore) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM history_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY valid_from, history_id`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history records: %w", err)
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (s *postgresHistoryStore) EffectiveAt(ctx context.Context, entityType string, entityID uuid.UUID, at time.Time) (domain.HistoryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+historyColumns+`
		FROM history_records
		WHERE entity_type = $1 AND entity_id = $2
		  AND valid_from <= $3
		  AND (valid_to > $3 OR valid_to IS NULL)
		ORDER BY valid_from DESC, history_id DESC
		LIMIT 1`,
		entityType, entityID, at,
	)
	return scanHistory(row)
}

func (s *postgresHistoryStore) AsOf(ctx context.Context, entityType string, at time.Time) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM history_records
		WHERE entity_type = $1
		  AND version_type <> '-'
		  AND valid_from <= $2
		  AND (valid_to > $2 OR valid_to IS NULL)
		ORDER BY valid_from, history_id`,
		entityType, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history as-of: %w", err)
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (s *postgresHistoryStore) ListEntityIDs(ctx context.Context, entityType string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT entity_id
		FROM history_records
		WHERE entity_type = $1
		ORDER BY entity_id`,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *postgresHistoryStore) Delete(ctx context.Context, historyID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM history_records WHERE history_id = $1`, historyID)
	if err != nil {
		return fmt.Errorf("failed to delete history record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanHistory(row pgx.Row) (domain.HistoryRecord, error) {
	var (
		record      domain.HistoryRecord
		versionType string
		snapshot    []byte
	)
	err := row.Scan(
		&record.HistoryID, &record.EntityType, &record.EntityID,
		&record.ValidFrom, &record.ValidTo, &versionType,
		&record.ChangeReason, &record.Actor, &snapshot,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HistoryRecord{}, domain.ErrNotFound
		}
		return domain.HistoryRecord{}, fmt.Errorf("failed to scan history record: %w", err)
	}

	record.VersionType = domain.VersionType(versionType)
	record.Snapshot, err = domain.SnapshotFromJSONB(snapshot)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return record, nil
}

func collectHistory(rows pgx.Rows) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	for rows.Next() {
		record, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
