package saga

import (
	"context"

	"github.com/pkg/errors"
)

const (
	sagaTableName        = "saga"
	sagaHistoryTableName = "saga_history"
)

// OptimisticLockError signals a version conflict on update: another
// orchestrator advanced the saga in the meantime, the caller must abort.
type OptimisticLockError struct {
	error
}

func WithOptimisticLockErr(err error) error {
	return OptimisticLockError{err}
}

func IsOptimisticLockErr(err error) bool {
	type causer interface {
		Cause() error
	}

	for err != nil {
		if _, ok := err.(OptimisticLockError); ok {
			return true
		}

		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}

	return false
}

// Batch is a page of instances plus the total count matching the filter
type Batch struct {
	Total int
	Items []*Instance
}

//go:generate mockgen --build_flags=--mod=mod -destination ../testing/mocks/saga/store.go -package saga . Store

// Store persists saga instances. Update carries an optimistic version check:
// it succeeds only against the version the instance was loaded with and bumps
// it, otherwise OptimisticLockError.
type Store interface {
	Create(ctx context.Context, instance *Instance) error
	// GetByID returns nil, nil when no instance exists
	GetByID(ctx context.Context, sagaUID string) (*Instance, error)
	GetByFilter(ctx context.Context, filters ...FilterOption) (*Batch, error)
	Update(ctx context.Context, instance *Instance) error
	Delete(ctx context.Context, sagaUID string) error
}

type FilterOption func(opts *filterOptions)

func WithSagaUID(sagaUID string) FilterOption {
	return func(opts *filterOptions) {
		opts.sagaUID = sagaUID
	}
}

func WithStatus(status string) FilterOption {
	return func(opts *filterOptions) {
		opts.status = status
	}
}

func WithDefinitionName(definitionName string) FilterOption {
	return func(opts *filterOptions) {
		opts.definitionName = definitionName
	}
}

func WithCorrelationID(correlationID string) FilterOption {
	return func(opts *filterOptions) {
		opts.correlationID = correlationID
	}
}

func WithOffsetAndLimit(offset, limit int) FilterOption {
	return func(opts *filterOptions) {
		opts.offset = &offset
		opts.limit = &limit
	}
}

type filterOptions struct {
	sagaUID        string
	status         string
	definitionName string
	correlationID  string
	offset         *int
	limit          *int
}

func (f *filterOptions) empty() bool {
	return f.sagaUID == "" && f.status == "" && f.definitionName == "" && f.correlationID == ""
}

func applyFilters(filters []FilterOption) (*filterOptions, error) {
	if len(filters) == 0 {
		return nil, errors.New("no filters found, you have to specify at least one so result won't be whole store")
	}

	opts := &filterOptions{}

	for _, filter := range filters {
		filter(opts)
	}

	return opts, nil
}
