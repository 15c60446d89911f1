package saga

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// NewInMemoryStore returns a Store keeping instances in memory with full
// optimistic version checking. Used in tests and single-process deployments.
func NewInMemoryStore() Store {
	return &memStore{instances: make(map[string]*Instance)}
}

type memStore struct {
	mutex     sync.RWMutex
	instances map[string]*Instance
}

func (s *memStore) Create(ctx context.Context, instance *Instance) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.instances[instance.UID()]; exists {
		return errors.Errorf("saga %s already exists", instance.UID())
	}

	s.instances[instance.UID()] = instance.clone()

	return nil
}

func (s *memStore) GetByID(ctx context.Context, sagaUID string) (*Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instance, exists := s.instances[sagaUID]
	if !exists {
		return nil, nil
	}

	return instance.clone(), nil
}

func (s *memStore) GetByFilter(ctx context.Context, filters ...FilterOption) (*Batch, error) {
	opts, err := applyFilters(filters)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matched []*Instance

	for _, instance := range s.instances {
		if opts.sagaUID != "" && instance.UID() != opts.sagaUID {
			continue
		}

		if opts.status != "" && instance.Status().String() != opts.status {
			continue
		}

		if opts.definitionName != "" && instance.Definition().Name != opts.definitionName {
			continue
		}

		if opts.correlationID != "" && instance.CorrelationID() != opts.correlationID {
			continue
		}

		matched = append(matched, instance.clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UID() < matched[j].UID()
	})

	total := len(matched)

	if opts.offset != nil {
		if *opts.offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[*opts.offset:]
		}
	}

	if opts.limit != nil && len(matched) > *opts.limit {
		matched = matched[:*opts.limit]
	}

	return &Batch{Total: total, Items: matched}, nil
}

func (s *memStore) Update(ctx context.Context, instance *Instance) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, exists := s.instances[instance.UID()]
	if !exists {
		return errors.Errorf("saga %s does not exist", instance.UID())
	}

	if stored.version != instance.version {
		return WithOptimisticLockErr(errors.Errorf("saga %s is at version %d, update expected %d", instance.UID(), stored.version, instance.version))
	}

	instance.version++
	s.instances[instance.UID()] = instance.clone()

	return nil
}

func (s *memStore) Delete(ctx context.Context, sagaUID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.instances[sagaUID]; !exists {
		return errors.Errorf("saga %s does not exist", sagaUID)
	}

	delete(s.instances, sagaUID)

	return nil
}
