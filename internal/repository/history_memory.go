package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

// memoryHistoryStore keeps Level 1 records in memory for tests and
// single-process deployments.
type memoryHistoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]domain.HistoryRecord
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() HistoryStore {
	return &memoryHistoryStore{nextID: 1, records: make(map[int64]domain.HistoryRecord)}
}

func (s *memoryHistoryStore) Insert(_ context.Context, record *domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.HistoryID = s.nextID
	s.nextID++
	// Store an independent copy; the caller keeps mutating rights over its
	// own record without rewriting history.
	s.records[record.HistoryID] = cloneHistory(*record)
	return nil
}

func (s *memoryHistoryStore) UpdateValidTo(_ context.Context, historyID int64, validTo *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[historyID]
	if !ok {
		return domain.ErrNotFound
	}
	record.ValidTo = copyTime(validTo)
	s.records[historyID] = record
	return nil
}

func (s *memoryHistoryStore) GetByID(_ context.Context, historyID int64) (domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[historyID]
	if !ok {
		return domain.HistoryRecord{}, domain.ErrNotFound
	}
	return cloneHistory(record), nil
}

func (s *memoryHistoryStore) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.HistoryRecord
	for _, record := range s.records {
		if record.EntityType == entityType && record.EntityID == entityID {
			out = append(out, cloneHistory(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].HistoryID < out[j].HistoryID
	})
	return out, nil
}

func (s *memoryHistoryStore) EffectiveAt(ctx context.Context, entityType string, entityID uuid.UUID, at time.Time) (domain.HistoryRecord, error) {
	records, err := s.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].CoversAt(at) {
			return records[i], nil
		}
	}
	return domain.HistoryRecord{}, domain.ErrNotFound
}

func (s *memoryHistoryStore) AsOf(_ context.Context, entityType string, at time.Time) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.HistoryRecord
	for _, record := range s.records {
		if record.EntityType != entityType || record.IsDeletion() {
			continue
		}
		if record.CoversAt(at) {
			out = append(out, cloneHistory(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].HistoryID < out[j].HistoryID
	})
	return out, nil
}

func (s *memoryHistoryStore) ListEntityIDs(_ context.Context, entityType string) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, record := range s.records {
		if record.EntityType != entityType {
			continue
		}
		if _, ok := seen[record.EntityID]; ok {
			continue
		}
		seen[record.EntityID] = struct{}{}
		out = append(out, record.EntityID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *memoryHistoryStore) Delete(_ context.Context, historyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[historyID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, historyID)
	return nil
}

func cloneHistory(record domain.HistoryRecord) domain.HistoryRecord {
	record.Snapshot = record.Snapshot.Clone()
	record.ValidTo = copyTime(record.ValidTo)
	return record
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
