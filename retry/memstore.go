package retry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewInMemoryStore returns a Store keeping processing rows in memory. Suitable
// for tests and single-process deployments; use the SQL store for durability.
func NewInMemoryStore() Store {
	return &memStore{rows: make(map[pairKey]*Processing)}
}

type pairKey struct {
	eventID   string
	handlerID string
}

type memStore struct {
	mutex sync.RWMutex
	rows  map[pairKey]*Processing
}

func (s *memStore) Get(ctx context.Context, eventID, handlerID string) (*Processing, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, exists := s.rows[pairKey{eventID, handlerID}]
	if !exists {
		return nil, nil
	}

	copied := *p

	return &copied, nil
}

func (s *memStore) Create(ctx context.Context, p *Processing) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := pairKey{p.EventID, p.HandlerID}

	if _, exists := s.rows[key]; exists {
		return errors.Errorf("processing row for event %s handler %s already exists", p.EventID, p.HandlerID)
	}

	copied := *p
	s.rows[key] = &copied

	return nil
}

func (s *memStore) Update(ctx context.Context, p *Processing) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := pairKey{p.EventID, p.HandlerID}

	if _, exists := s.rows[key]; !exists {
		return errors.Errorf("processing row for event %s handler %s does not exist", p.EventID, p.HandlerID)
	}

	copied := *p
	s.rows[key] = &copied

	return nil
}

func (s *memStore) Due(ctx context.Context, now time.Time, limit int) ([]*Processing, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var due []*Processing

	for _, p := range s.rows {
		if p.Status != StatusRetrying || p.NextRetryAt == nil || p.NextRetryAt.After(now) {
			continue
		}

		copied := *p
		due = append(due, &copied)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (s *memStore) DeadLettered(ctx context.Context, offset, limit int) ([]*Processing, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var parked []*Processing

	for _, p := range s.rows {
		if p.Status != StatusDeadLetter {
			continue
		}

		copied := *p
		parked = append(parked, &copied)
	}

	sort.Slice(parked, func(i, j int) bool {
		return parked[i].EventID < parked[j].EventID
	})

	if offset >= len(parked) {
		return nil, nil
	}

	parked = parked[offset:]

	if limit > 0 && len(parked) > limit {
		parked = parked[:limit]
	}

	return parked, nil
}
