package saga

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Context is the accumulated state of one saga run: the initial input plus
// every executed step's output, merged in execution order.
type Context struct {
	SagaID        string
	CorrelationID string
	Values        map[string]interface{}
}

// Value returns a single accumulated value
func (c *Context) Value(key string) (interface{}, bool) {
	v, exists := c.Values[key]
	return v, exists
}

// Decode maps the accumulated values onto a typed struct of a step
func (c *Context) Decode(out interface{}) error {
	if err := mapstructure.Decode(c.Values, out); err != nil {
		return errors.Wrapf(err, "decoding context of saga %s", c.SagaID)
	}

	return nil
}

// Step is the polymorphic unit of work a saga is made of. Execute performs
// the forward action and returns outputs to merge into the saga context,
// Compensate undoes it. Both must be idempotent: the orchestrator may call
// them again after a crash, keyed by (saga id, step index).
type Step interface {
	Name() string
	Execute(ctx context.Context, sagaCtx *Context) (map[string]interface{}, error)
	Compensate(ctx context.Context, sagaCtx *Context) error
}

// StepDescriptor names a registered step within a definition. Timeout zero
// means the orchestrator default applies.
type StepDescriptor struct {
	Name    string
	Timeout time.Duration
}

// Definition is an ordered sequence of steps. Linear only, no general DAGs.
type Definition struct {
	Name  string
	Steps []StepDescriptor
}

// StepRegistry resolves step names to implementations. Steps are registered
// at process start, resolution through the registry is what keeps definitions
// serializable and instances resumable.
type StepRegistry struct {
	mutex sync.RWMutex
	steps map[string]Step
}

func NewStepRegistry() *StepRegistry {
	return &StepRegistry{steps: make(map[string]Step)}
}

func (r *StepRegistry) Register(steps ...Step) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, step := range steps {
		if step.Name() == "" {
			return errors.New("step has an empty name")
		}

		if _, exists := r.steps[step.Name()]; exists {
			return errors.Errorf("step %s is already registered", step.Name())
		}

		r.steps[step.Name()] = step
	}

	return nil
}

func (r *StepRegistry) Get(name string) (Step, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	step, exists := r.steps[name]
	if !exists {
		return nil, errors.Errorf("step %s is not registered", name)
	}

	return step, nil
}

// DefinitionRegistry keeps all saga definitions the orchestrator may start
type DefinitionRegistry struct {
	mutex       sync.RWMutex
	definitions map[string]Definition
}

func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{definitions: make(map[string]Definition)}
}

func (r *DefinitionRegistry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("definition has an empty name")
	}

	if len(def.Steps) == 0 {
		return errors.Errorf("definition %s has no steps", def.Name)
	}

	for i, sd := range def.Steps {
		if sd.Name == "" {
			return errors.Errorf("definition %s has an unnamed step at index %d", def.Name, i)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.definitions[def.Name]; exists {
		return errors.Errorf("definition %s is already registered", def.Name)
	}

	r.definitions[def.Name] = def

	return nil
}

func (r *DefinitionRegistry) Get(name string) (Definition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, exists := r.definitions[name]
	if !exists {
		return Definition{}, errors.Errorf("definition %s is not registered", name)
	}

	return def, nil
}
