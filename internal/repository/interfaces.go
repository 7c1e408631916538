package repository

import (
	"context"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// HistoryStore defines storage for Level 1 (valid-time) records.
//
// Implementations must assign HistoryID monotonically on Insert and must make
// every single-row write atomic. UpdateValidTo is the one sanctioned in-place
// mutation of a history record; everything else is append or delete.
type HistoryStore interface {
	Insert(ctx context.Context, record *domain.HistoryRecord) error
	UpdateValidTo(ctx context.Context, historyID int64, validTo *time.Time) error
	GetByID(ctx context.Context, historyID int64) (domain.HistoryRecord, error)
	// ListByEntity returns all records for one entity ordered by
	// (valid_from, history_id) ascending.
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.HistoryRecord, error)
	// EffectiveAt returns the record whose validity window contains the
	// instant, preferring the latest (valid_from desc, history_id desc).
	// Deletion markers are included; callers decide their meaning.
	EffectiveAt(ctx context.Context, entityType string, entityID uuid.UUID, at time.Time) (domain.HistoryRecord, error)
	// AsOf returns all records of the entity type whose validity window
	// contains the instant, excluding deletion markers.
	AsOf(ctx context.Context, entityType string, at time.Time) ([]domain.HistoryRecord, error)
	ListEntityIDs(ctx context.Context, entityType string) ([]uuid.UUID, error)
	Delete(ctx context.Context, historyID int64) error
}

// MetaStore defines storage for Level 2 (system-time) records.
type MetaStore interface {
	Insert(ctx context.Context, record *domain.MetaRecord) error
	// Update rewrites the snapshot, validity window and change metadata of an
	// existing meta record in place. SysFrom is never touched; refinements
	// keep the original observation time.
	Update(ctx context.Context, record *domain.MetaRecord) error
	UpdateSysTo(ctx context.Context, metaID int64, sysTo *time.Time) error
	UpdateTask(ctx context.Context, metaID int64, taskName *string, status domain.TaskStatus) error
	// LatestByHistory returns the newest meta record for one history row,
	// ordered by (sys_from desc, meta_id desc).
	LatestByHistory(ctx context.Context, historyID int64) (domain.MetaRecord, error)
	// ListByHistory returns all meta records for one history row ordered by
	// (sys_from, meta_id) ascending.
	ListByHistory(ctx context.Context, historyID int64) ([]domain.MetaRecord, error)
	// ListScheduledByHistory returns meta records with task status SCHEDULED.
	ListScheduledByHistory(ctx context.Context, historyID int64) ([]domain.MetaRecord, error)
	// AsOf returns all meta records of the entity type whose system-time
	// window contains the instant.
	AsOf(ctx context.Context, entityType string, at time.Time) ([]domain.MetaRecord, error)
}

// CurrentStore defines storage for the derived "now" projection.
type CurrentStore interface {
	Get(ctx context.Context, entityType string, entityID uuid.UUID) (domain.CurrentRecord, error)
	Upsert(ctx context.Context, record domain.CurrentRecord) error
	Delete(ctx context.Context, entityType string, entityID uuid.UUID) error
}
