package mutex

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type MutexErr struct {
	error
}

func WithMutexErr(err error) error {
	return MutexErr{err}
}

// Mutex serializes orchestration of a single saga across process replicas: a
// given saga id has at most one orchestrator actively advancing it at a time.
type Mutex interface {
	Lock(ctx context.Context, sagaID string) error
	Release(ctx context.Context, sagaID string) error
}

// NewInProcessMutex returns a Mutex that serializes within one process only.
// Deployments with replicas must use the SQL mutex.
func NewInProcessMutex() Mutex {
	return &inProcessMutex{locks: make(map[string]chan struct{})}
}

type inProcessMutex struct {
	mapLock sync.Mutex
	locks   map[string]chan struct{}
}

func (m *inProcessMutex) Lock(ctx context.Context, sagaID string) error {
	m.mapLock.Lock()
	lock, exists := m.locks[sagaID]
	if !exists {
		lock = make(chan struct{}, 1)
		m.locks[sagaID] = lock
	}
	m.mapLock.Unlock()

	select {
	case <-ctx.Done():
		return WithMutexErr(ctx.Err())
	case lock <- struct{}{}:
		return nil
	}
}

func (m *inProcessMutex) Release(ctx context.Context, sagaID string) error {
	m.mapLock.Lock()
	lock, exists := m.locks[sagaID]
	m.mapLock.Unlock()

	if !exists || len(lock) == 0 {
		return WithMutexErr(errors.Errorf("no lock is held for saga %s", sagaID))
	}

	<-lock

	return nil
}
