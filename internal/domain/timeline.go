package domain

import "time"

// TimelineEntry is the serialized form of one history record together with
// its nested system-time history, as consumed by presentation layers.
type TimelineEntry struct {
	HistoryID     int64                `json:"history_id"`
	ValidFrom     time.Time            `json:"valid_from"`
	ValidTo       *time.Time           `json:"valid_to"`
	VersionType   VersionType          `json:"version_type"`
	ChangeReason  string               `json:"change_reason,omitempty"`
	Actor         *string              `json:"actor,omitempty"`
	Snapshot      Snapshot             `json:"snapshot"`
	SystemHistory []SystemHistoryEntry `json:"system_history"`
}

// SystemHistoryEntry is the serialized form of one meta record.
type SystemHistoryEntry struct {
	SysFrom      time.Time  `json:"sys_from"`
	SysTo        *time.Time `json:"sys_to"`
	TaskStatus   TaskStatus `json:"task_status"`
	TaskName     *string    `json:"task_name,omitempty"`
	ChangeReason string     `json:"change_reason,omitempty"`
}

// NewTimelineEntry builds the presentation shape for one history record and
// its meta lineage.
func NewTimelineEntry(record HistoryRecord, meta []MetaRecord) TimelineEntry {
	system := make([]SystemHistoryEntry, len(meta))
	for i, m := range meta {
		system[i] = SystemHistoryEntry{
			SysFrom:      m.SysFrom,
			SysTo:        m.SysTo,
			TaskStatus:   m.TaskStatus,
			TaskName:     m.TaskName,
			ChangeReason: m.ChangeReason,
		}
	}
	return TimelineEntry{
		HistoryID:     record.HistoryID,
		ValidFrom:     record.ValidFrom,
		ValidTo:       record.ValidTo,
		VersionType:   record.VersionType,
		ChangeReason:  record.ChangeReason,
		Actor:         record.Actor,
		Snapshot:      record.Snapshot.Clone(),
		SystemHistory: system,
	}
}
