package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresMetaStore implements MetaStore over the meta_records table.
type postgresMetaStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMetaStore creates a Postgres-backed meta-history store.
func NewPostgresMetaStore(pool *pgxpool.Pool) MetaStore {
	return &postgresMetaStore{pool: pool}
}

const metaColumns = `meta_id, history_id, entity_type, entity_id, sys_from, sys_to,
	valid_from, valid_to, version_type, change_reason, actor, snapshot, task_name, task_status`

func (s *postgresMetaStore) Insert(ctx context.Context, record *domain.MetaRecord) error {
	snapshot, err := record.Snapshot.MarshalJSONB()
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO meta_records
			(history_id, entity_type, entity_id, sys_from, sys_to, valid_from, valid_to,
			 version_type, change_reason, actor, snapshot, task_name, task_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING meta_id`,
		record.HistoryID, record.EntityType, record.EntityID, record.SysFrom, record.SysTo,
		record.ValidFrom, record.ValidTo, string(record.VersionType), record.ChangeReason,
		record.Actor, snapshot, record.TaskName, string(record.TaskStatus),
	).Scan(&record.MetaID)
	if err != nil {
		return fmt.Errorf("failed to insert meta record: %w", err)
	}
	return nil
}

func (s *postgresMetaStore) Update(ctx context.Context, record *domain.MetaRecord) error {
	snapshot, err := record.Snapshot.MarshalJSONB()
	if err != nil {
		return err
	}

	// sys_from / sys_to stay untouched; refinements keep the original
	// observation window.
	tag, err := s.pool.Exec(ctx, `
		UPDATE meta_records
		SET valid_from = $2, valid_to = $3, version_type = $4,
		    change_reason = $5, actor = $6, snapshot = $7
		WHERE meta_id = $1`,
		record.MetaID, record.ValidFrom, record.ValidTo, string(record.VersionType),
		record.ChangeReason, record.Actor, snapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to update meta record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *postgresMetaStore) UpdateSysTo(ctx context.Context, metaID int64, sysTo *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meta_records SET sys_to = $2 WHERE meta_id = $1`,
		metaID, sysTo,
	)
	if err != nil {
		return fmt.Errorf("failed to update sys_to: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *postgresMetaStore) UpdateTask(ctx context.Context, metaID int64, taskName *string, status domain.TaskStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meta_records
		SET task_name = COALESCE($2, task_name), task_status = $3
		WHERE meta_id = $1`,
		metaID, taskName, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update meta task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *postgresMetaStore) LatestByHistory(ctx context.Context, historyID int64) (domain.MetaRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+metaColumns+`
		FROM meta_records
		WHERE history_id = $1
		ORDER BY sys_from DESC, meta_id DESC
		LIMIT 1`,
		historyID,
	)
	return scanMeta(row)
}

func (s *postgresMetaStore) ListByHistory(ctx context.Context, historyID int64) ([]domain.MetaRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metaColumns+`
		FROM meta_records
		WHERE history_id = $1
		ORDER BY sys_from, meta_id`,
		historyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meta records: %w", err)
	}
	defer rows.Close()
	return collectMeta(rows)
}

func (s *postgresMetaStore) ListScheduledByHistory(ctx context.Context, historyID int64) ([]domain.MetaRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metaColumns+`
		FROM meta_records
		WHERE history_id = $1 AND task_status = 'SCHEDULED'
		ORDER BY sys_from, meta_id`,
		historyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled meta records: %w", err)
	}
	defer rows.Close()
	return collectMeta(rows)
}

func (s *postgresMetaStore) AsOf(ctx context.Context, entityType string, at time.Time) ([]domain.MetaRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metaColumns+`
		FROM meta_records
		WHERE entity_type = $1
		  AND sys_from <= $2
		  AND (sys_to > $2 OR sys_to IS NULL)
		ORDER BY sys_from, meta_id`,
		entityType, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta as-of: %w", err)
	}
	defer rows.Close()
	return collectMeta(rows)
}

func scanMeta(row pgx.Row) (domain.MetaRecord, error) {
	var (
		record      domain.MetaRecord
		versionType string
		taskStatus  string
		snapshot    []byte
	)
	err := row.Scan(
		&record.MetaID, &record.HistoryID, &record.EntityType, &record.EntityID,
		&record.SysFrom, &record.SysTo, &record.ValidFrom, &record.ValidTo,
		&versionType, &record.ChangeReason, &record.Actor, &snapshot,
		&record.TaskName, &taskStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MetaRecord{}, domain.ErrNotFound
		}
		return domain.MetaRecord{}, fmt.Errorf("failed to scan meta record: %w", err)
	}

	record.VersionType = domain.VersionType(versionType)
	record.TaskStatus = domain.TaskStatus(taskStatus)
	record.Snapshot, err = domain.SnapshotFromJSONB(snapshot)
	if err != nil {
		return domain.MetaRecord{}, err
	}
	return record, nil
}

func collectMeta(rows pgx.Rows) ([]domain.MetaRecord, error) {
	var out []domain.MetaRecord
	for rows.Next() {
		record, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
