package handler

import (
	"context"
	"sync"

	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// UnknownHandlerError is a configuration error, callers must not retry
type UnknownHandlerError struct {
	error
}

func WithUnknownHandlerErr(err error) error {
	return UnknownHandlerError{err}
}

// Func processes a delivered event. Return nil to acknowledge, an error to
// hand the pair over to the retry scheduler, or wrap with retry.WithNoRetryErr
// to dead-letter immediately.
type Func func(ctx context.Context, ev *stream.Event) error

// Registration binds a handler identity to a subscribed stream, an optional
// filter and a retry policy. Registration is permanent for the process
// lifetime; handlers are toggled inactive instead of being removed.
type Registration struct {
	ID       string
	Stream   string
	Filter   *Filter
	Policy   retry.Policy
	Priority int
	Active   bool

	fn Func
}

// Handle invokes the registered function
func (r *Registration) Handle(ctx context.Context, ev *stream.Event) error {
	return r.fn(ctx, ev)
}

type registrationOpts struct {
	filter   *Filter
	policy   *retry.Policy
	priority int
}

type Option func(o *registrationOpts)

// WithFilter restricts which events of the stream reach the handler
func WithFilter(filter *Filter) Option {
	return func(o *registrationOpts) {
		o.filter = filter
	}
}

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(policy retry.Policy) Option {
	return func(o *registrationOpts) {
		o.policy = &policy
	}
}

// WithPriority sets redelivery priority of the handler's processing rows
func WithPriority(priority int) Option {
	return func(o *registrationOpts) {
		o.priority = priority
	}
}

// Registry maps handler identities to their subscription and policy
type Registry struct {
	mutex    sync.RWMutex
	handlers map[string]*Registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Registration)}
}

func (r *Registry) Register(id, streamName string, fn Func, passedOptions ...Option) (*Registration, error) {
	if id == "" {
		return nil, errors.New("handler id is empty")
	}

	if streamName == "" {
		return nil, errors.Errorf("handler %s subscribes to an empty stream name", id)
	}

	if fn == nil {
		return nil, errors.Errorf("handler %s has no function", id)
	}

	opts := &registrationOpts{}

	for _, o := range passedOptions {
		if o != nil {
			o(opts)
		}
	}

	reg := &Registration{
		ID:       id,
		Stream:   streamName,
		Filter:   opts.filter,
		Policy:   retry.DefaultPolicy(),
		Priority: opts.priority,
		Active:   true,
		fn:       fn,
	}

	if opts.policy != nil {
		reg.Policy = *opts.policy
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.handlers[id]; exists {
		return nil, errors.Errorf("handler %s is already registered", id)
	}

	r.handlers[id] = reg

	return reg, nil
}

func (r *Registry) Get(id string) (*Registration, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	reg, exists := r.handlers[id]
	if !exists {
		return nil, WithUnknownHandlerErr(errors.Errorf("handler %s is not registered", id))
	}

	return reg, nil
}

// ForStream returns all active registrations subscribed to the stream
func (r *Registry) ForStream(streamName string) []*Registration {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var regs []*Registration

	for _, reg := range r.handlers {
		if reg.Stream == streamName && reg.Active {
			regs = append(regs, reg)
		}
	}

	return regs
}

func (r *Registry) Deactivate(id string) error {
	return r.toggle(id, false)
}

func (r *Registry) Activate(id string) error {
	return r.toggle(id, true)
}

func (r *Registry) toggle(id string, active bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg, exists := r.handlers[id]
	if !exists {
		return WithUnknownHandlerErr(errors.Errorf("handler %s is not registered", id))
	}

	reg.Active = active

	return nil
}
