package domain

import (
	"time"

	"github.com/google/uuid"
)

// VersionType marks what kind of change a version represents. Stored as a
// single-character marker so timelines stay compact.
type VersionType string

const (
	VersionCreated VersionType = "+"
	VersionChanged VersionType = "~"
	VersionDeleted VersionType = "-"
)

// Valid reports whether the marker is one of the known version types.
func (v VersionType) Valid() bool {
	switch v {
	case VersionCreated, VersionChanged, VersionDeleted:
		return true
	}
	return false
}

// String returns a readable name for the marker.
func (v VersionType) String() string {
	switch v {
	case VersionCreated:
		return "created"
	case VersionChanged:
		return "changed"
	case VersionDeleted:
		return "deleted"
	}
	return string(v)
}

// TaskStatus tracks the lifecycle of a deferred activation owned by a meta record.
type TaskStatus string

const (
	TaskNone      TaskStatus = "NONE"
	TaskScheduled TaskStatus = "SCHEDULED"
	TaskDone      TaskStatus = "DONE"
	TaskCancelled TaskStatus = "CANCELLED"
)

// HistoryRecord is one valid-time version of a tracked entity (Level 1).
//
// For a fixed (EntityType, EntityID) the records ordered by
// (ValidFrom, HistoryID) form a gapless, non-overlapping chain: each record's
// ValidTo equals the next record's ValidFrom, and the last record has
// ValidTo == nil (open-ended). Deletion markers participate in the chain;
// they close the previous window.
type HistoryRecord struct {
	HistoryID    int64       `json:"history_id"`
	EntityType   string      `json:"entity_type"`
	EntityID     uuid.UUID   `json:"entity_id"`
	ValidFrom    time.Time   `json:"valid_from"`
	ValidTo      *time.Time  `json:"valid_to"`
	VersionType  VersionType `json:"version_type"`
	ChangeReason string      `json:"change_reason,omitempty"`
	Actor        *string     `json:"actor,omitempty"`
	Snapshot     Snapshot    `json:"snapshot"`
}

// CoversAt reports whether the record's validity window contains the instant.
func (h HistoryRecord) CoversAt(at time.Time) bool {
	if h.ValidFrom.After(at) {
		return false
	}
	return h.ValidTo == nil || h.ValidTo.After(at)
}

// IsDeletion reports whether the record is a deletion marker.
func (h HistoryRecord) IsDeletion() bool {
	return h.VersionType == VersionDeleted
}

// MetaRecord is one system-time version of a HistoryRecord (Level 2).
//
// It answers "what did the system know about this history row, and when".
// The snapshot fields are denormalized copies so point-in-time reconstruction
// never has to join against a Level 1 row that may since have been refined.
// For a fixed HistoryID the records ordered by (SysFrom, MetaID) obey the
// same chain invariant as Level 1.
type MetaRecord struct {
	MetaID       int64       `json:"meta_id"`
	HistoryID    int64       `json:"history_id"`
	EntityType   string      `json:"entity_type"`
	EntityID     uuid.UUID   `json:"entity_id"`
	SysFrom      time.Time   `json:"sys_from"`
	SysTo        *time.Time  `json:"sys_to"`
	ValidFrom    time.Time   `json:"valid_from"`
	ValidTo      *time.Time  `json:"valid_to"`
	VersionType  VersionType `json:"version_type"`
	ChangeReason string      `json:"change_reason,omitempty"`
	Actor        *string     `json:"actor,omitempty"`
	Snapshot     Snapshot    `json:"snapshot"`
	TaskName     *string     `json:"task_name,omitempty"`
	TaskStatus   TaskStatus  `json:"task_status"`
}

// CoversAt reports whether the record's system-time window contains the instant.
func (m MetaRecord) CoversAt(at time.Time) bool {
	if m.SysFrom.After(at) {
		return false
	}
	return m.SysTo == nil || m.SysTo.After(at)
}

// CurrentRecord is the flat "live" projection of an entity: a cache of the
// history row whose validity window covers now. Derived state only: it is
// rebuilt by the synchronizer after every write and must never be read as
// authoritative history.
type CurrentRecord struct {
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	HistoryID  int64     `json:"history_id"`
	Snapshot   Snapshot  `json:"snapshot"`
	UpdatedAt  time.Time `json:"updated_at"`
}
