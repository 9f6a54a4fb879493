package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) CreateRecord(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if collection == "" {
		return "", ErrEmptyCollection
	}

	now := s.now().UTC()
	rec := &Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Fields:     Fields{}.Merge(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return rec.ID, nil
}

func (s *MemoryStore) ArchiveRecord(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}
	rec.Archived = true
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) UpdateRecord(ctx context.Context, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	rec.Fields = rec.Fields.Merge(fields)
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	cp := *rec
	cp.Fields = Fields{}.Merge(rec.Fields)
	return &cp, nil
}

// Records returns a snapshot of every record in collection, archived or not.
func (s *MemoryStore) Records(collection string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Collection == collection {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }
