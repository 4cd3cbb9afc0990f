package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// storeMem is an in-memory Store for tests and single-node development.
type storeMem struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*Record
}

func NewStoreMem() Store {
	return &storeMem{recs: make(map[uuid.UUID]*Record)}
}

func (s *storeMem) Load(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *storeMem) Save(_ context.Context, id uuid.UUID, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec.Clone()
	cp.SchemaVersion = SchemaVersion
	cp.UpdatedAt = time.Now().UTC()
	s.recs[id] = cp
	return nil
}

func (s *storeMem) Update(_ context.Context, id uuid.UUID, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := rec.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.SchemaVersion = SchemaVersion
	cp.UpdatedAt = time.Now().UTC()
	s.recs[id] = cp
	return cp.Clone(), nil
}

// PurgeStale removes sessions untouched for longer than ttl.
func (s *storeMem) PurgeStale(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-ttl)
	var n int64
	for id, rec := range s.recs {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.recs, id)
			n++
		}
	}
	return n, nil
}

func (s *storeMem) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recs, id)
	return nil
}
