// Package memory is a map-backed Store for single-process use: tests,
// one-shot CLI transfers, or any caller that does not need the transfer to
// survive process restart.
package memory

import (
	"context"
	"sync"

	"rangedl/pkg/rangeerr"
	"rangedl/pkg/segment"
	"rangedl/pkg/store"
)

// Store is an in-memory store.Store. It never fails except for
// rangeerr.ErrNotFound on an unknown id; the zero value is not usable, use
// New.
type Store struct {
	mu      sync.Mutex
	nextID  segment.ID
	records map[segment.ID]segment.Segment
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[segment.ID]segment.Segment)}
}

// Add inserts seg under a freshly assigned id.
func (s *Store) Add(_ context.Context, seg segment.Segment) (segment.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	seg.ID = s.nextID
	s.records[seg.ID] = seg
	return seg.ID, nil
}

// Update overwrites the record with matching id.
func (s *Store) Update(_ context.Context, seg segment.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[seg.ID]; !ok {
		return rangeerr.ErrNotFound
	}
	s.records[seg.ID] = seg
	return nil
}

// ListByURL returns all live segments for that URL.
func (s *Store) ListByURL(_ context.Context, url string) ([]segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]segment.Segment, 0)
	for _, seg := range s.records {
		if seg.URL == url {
			out = append(out, seg)
		}
	}
	return out, nil
}

// RemoveByID removes the record if present. Idempotent.
func (s *Store) RemoveByID(_ context.Context, id segment.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// RemoveByURL removes every segment for that URL.
func (s *Store) RemoveByURL(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seg := range s.records {
		if seg.URL == url {
			delete(s.records, id)
		}
	}
	return nil
}

// Close is a no-op; the store holds no external resources.
func (s *Store) Close() error {
	return nil
}
