package repository

import (
	"context"
	"sync"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

type currentKey struct {
	entityType string
	entityID   uuid.UUID
}

// memoryCurrentStore keeps the current projection in memory for tests and
// single-process deployments.
type memoryCurrentStore struct {
	mu      sync.RWMutex
	records map[currentKey]domain.CurrentRecord
}

// NewMemoryCurrentStore creates an empty in-memory current-projection store.
func NewMemoryCurrentStore() CurrentStore {
	return &memoryCurrentStore{records: make(map[currentKey]domain.CurrentRecord)}
}

func (s *memoryCurrentStore) Get(_ context.Context, entityType string, entityID uuid.UUID) (domain.CurrentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[currentKey{entityType, entityID}]
	if !ok {
		return domain.CurrentRecord{}, domain.ErrNotFound
	}
	record.Snapshot = record.Snapshot.Clone()
	return record, nil
}

func (s *memoryCurrentStore) Upsert(_ context.Context, record domain.CurrentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Snapshot = record.Snapshot.Clone()
	s.records[currentKey{record.EntityType, record.EntityID}] = record
	return nil
}

func (s *memoryCurrentStore) Delete(_ context.Context, entityType string, entityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, currentKey{entityType, entityID})
	return nil
}
