package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bitempo/bitempo/internal/domain"
)

// memoryMetaStore keeps Level 2 records in memory for tests and
// single-process deployments.
type memoryMetaStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]domain.MetaRecord
}

// NewMemoryMetaStore creates an empty in-memory meta-history store.
func NewMemoryMetaStore() MetaStore {
	return &memoryMetaStore{nextID: 1, records: make(map[int64]domain.MetaRecord)}
}

func (s *memoryMetaStore) Insert(_ context.Context, record *domain.MetaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.MetaID = s.nextID
	s.nextID++
	s.records[record.MetaID] = cloneMeta(*record)
	return nil
}

func (s *memoryMetaStore) Update(_ context.Context, record *domain.MetaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.MetaID]
	if !ok {
		return domain.ErrNotFound
	}
	stored := cloneMeta(*record)
	// SysFrom and SysTo are owned by chaining, not by refinements.
	stored.SysFrom = existing.SysFrom
	stored.SysTo = existing.SysTo
	s.records[record.MetaID] = stored
	return nil
}

func (s *memoryMetaStore) UpdateSysTo(_ context.Context, metaID int64, sysTo *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[metaID]
	if !ok {
		return domain.ErrNotFound
	}
	record.SysTo = copyTime(sysTo)
	s.records[metaID] = record
	return nil
}

func (s *memoryMetaStore) UpdateTask(_ context.Context, metaID int64, taskName *string, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[metaID]
	if !ok {
		return domain.ErrNotFound
	}
	if taskName != nil {
		name := *taskName
		record.TaskName = &name
	}
	record.TaskStatus = status
	s.records[metaID] = record
	return nil
}

func (s *memoryMetaStore) LatestByHistory(ctx context.Context, historyID int64) (domain.MetaRecord, error) {
	records, err := s.ListByHistory(ctx, historyID)
	if err != nil {
		return domain.MetaRecord{}, err
	}
	if len(records) == 0 {
		return domain.MetaRecord{}, domain.ErrNotFound
	}
	return records[len(records)-1], nil
}

func (s *memoryMetaStore) ListByHistory(_ context.Context, historyID int64) ([]domain.MetaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MetaRecord
	for _, record := range s.records {
		if record.HistoryID == historyID {
			out = append(out, cloneMeta(record))
		}
	}
	sortMeta(out)
	return out, nil
}

func (s *memoryMetaStore) ListScheduledByHistory(_ context.Context, historyID int64) ([]domain.MetaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MetaRecord
	for _, record := range s.records {
		if record.HistoryID == historyID && record.TaskStatus == domain.TaskScheduled {
			out = append(out, cloneMeta(record))
		}
	}
	sortMeta(out)
	return out, nil
}

func (s *memoryMetaStore) AsOf(_ context.Context, entityType string, at time.Time) ([]domain.MetaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MetaRecord
	for _, record := range s.records {
		if record.EntityType == entityType && record.CoversAt(at) {
			out = append(out, cloneMeta(record))
		}
	}
	sortMeta(out)
	return out, nil
}

func sortMeta(records []domain.MetaRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].SysFrom.Equal(records[j].SysFrom) {
			return records[i].SysFrom.Before(records[j].SysFrom)
		}
		return records[i].MetaID < records[j].MetaID
	})
}

func cloneMeta(record domain.MetaRecord) domain.MetaRecord {
	record.Snapshot = record.Snapshot.Clone()
	record.SysTo = copyTime(record.SysTo)
	record.ValidTo = copyTime(record.ValidTo)
	if record.TaskName != nil {
		name := *record.TaskName
		record.TaskName = &name
	}
	return record
}
