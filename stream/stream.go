package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UnknownStreamError is returned on operations against a stream that was never registered.
// Configuration error, callers must not retry.
type UnknownStreamError struct {
	error
}

func WithUnknownStreamErr(err error) error {
	return UnknownStreamError{err}
}

func IsUnknownStreamErr(err error) bool {
	type causer interface {
		Cause() error
	}

	for err != nil {
		if _, ok := err.(UnknownStreamError); ok {
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

// EventStream describes a named append-only stream. Created administratively,
// only retention and the active flag may change once events exist.
type EventStream struct {
	ID            string
	Name          string
	SchemaVersion string
	Retention     time.Duration
	PartitionKey  string
	Active        bool
	CreatedAt     time.Time
}

type streamOpts struct {
	schemaVersion string
	retention     time.Duration
	partitionKey  string
}

type StreamOption func(o *streamOpts)

func WithSchemaVersion(version string) StreamOption {
	return func(o *streamOpts) {
		o.schemaVersion = version
	}
}

func WithRetention(retention time.Duration) StreamOption {
	return func(o *streamOpts) {
		o.retention = retention
	}
}

func WithPartitionKey(key string) StreamOption {
	return func(o *streamOpts) {
		o.partitionKey = key
	}
}

const (
	defaultSchemaVersion = "v1"
	defaultRetention     = time.Hour * 24 * 7
)

// Registry keeps definitions of all streams the bus works with.
// Registration is permanent for the process lifetime, streams are toggled
// inactive instead of being removed.
type Registry struct {
	mutex   sync.RWMutex
	streams map[string]*EventStream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*EventStream)}
}

// Create registers a stream definition. Registering the same name twice is an error.
func (r *Registry) Create(name string, passedOptions ...StreamOption) (*EventStream, error) {
	if name == "" {
		return nil, errors.New("stream name is empty")
	}

	opts := &streamOpts{schemaVersion: defaultSchemaVersion, retention: defaultRetention}

	for _, o := range passedOptions {
		if o != nil {
			o(opts)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.streams[name]; exists {
		return nil, errors.Errorf("stream %s is already registered", name)
	}

	def := &EventStream{
		ID:            uuid.New().String(),
		Name:          name,
		SchemaVersion: opts.schemaVersion,
		Retention:     opts.retention,
		PartitionKey:  opts.partitionKey,
		Active:        true,
		CreatedAt:     time.Now().Round(time.Second).UTC(),
	}

	r.streams[name] = def

	return def, nil
}

// Get returns a stream definition or UnknownStreamError
func (r *Registry) Get(name string) (*EventStream, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, exists := r.streams[name]
	if !exists {
		return nil, WithUnknownStreamErr(errors.Errorf("stream %s is not registered", name))
	}

	copied := *def

	return &copied, nil
}

func (r *Registry) List() []*EventStream {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	all := make([]*EventStream, 0, len(r.streams))
	for _, def := range r.streams {
		copied := *def
		all = append(all, &copied)
	}

	return all
}

// UpdateRetention changes how long appended events are kept around
func (r *Registry) UpdateRetention(name string, retention time.Duration) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	def, exists := r.streams[name]
	if !exists {
		return WithUnknownStreamErr(errors.Errorf("stream %s is not registered", name))
	}

	def.Retention = retention

	return nil
}

// Deactivate stops the stream from accepting new events. Already appended events stay readable.
func (r *Registry) Deactivate(name string) error {
	return r.toggle(name, false)
}

func (r *Registry) Activate(name string) error {
	return r.toggle(name, true)
}

func (r *Registry) toggle(name string, active bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	def, exists := r.streams[name]
	if !exists {
		return WithUnknownStreamErr(errors.Errorf("stream %s is not registered", name))
	}

	def.Active = active

	return nil
}
