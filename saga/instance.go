package saga

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

type Status string

func (s Status) Running() bool {
	return s == StatusRunning
}

func (s Status) Completed() bool {
	return s == StatusCompleted
}

func (s Status) Compensating() bool {
	return s == StatusCompensating
}

func (s Status) Compensated() bool {
	return s == StatusCompensated
}

func (s Status) Failed() bool {
	return s == StatusFailed
}

// Terminal statuses never change again
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

func StatusFromStr(str string) (Status, error) {
	switch str {
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "compensating":
		return StatusCompensating, nil
	case "compensated":
		return StatusCompensated, nil
	case "failed":
		return StatusFailed, nil
	default:
		return "", errors.Errorf("unknown saga status string %s", str)
	}
}

const (
	StepPending     StepStatus = "pending"
	StepExecuted    StepStatus = "executed"
	StepCompensated StepStatus = "compensated"
	StepFailed      StepStatus = "failed"
)

type StepStatus string

func (s StepStatus) String() string {
	return string(s)
}

// StepState is the per-(saga, step index) execution record. It is what makes
// resume idempotent: a step marked executed is never run again.
type StepState struct {
	Index         int                    `json:"index"`
	Name          string                 `json:"name"`
	Status        StepStatus             `json:"status"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ExecutedAt    *time.Time             `json:"executed_at,omitempty"`
	CompensatedAt *time.Time             `json:"compensated_at,omitempty"`
}

// HistoryEvent is one entry of the saga's audit trail
type HistoryEvent struct {
	UID         string    `json:"uid"`
	CreatedAt   time.Time `json:"created_at"`
	StepName    string    `json:"step_name,omitempty"`
	SagaStatus  string    `json:"saga_status"` //saga status at the moment
	Description string    `json:"description"`
}

type instanceOpts struct {
	parentID string
}

type InstanceOption func(o *instanceOpts)

// WithParentID links a child saga to the saga that spawned it
func WithParentID(parentID string) InstanceOption {
	return func(o *instanceOpts) {
		o.parentID = parentID
	}
}

// NewInstance creates a running instance of the definition. The initial
// context is copied, step states start pending.
func NewInstance(def Definition, initialContext map[string]interface{}, correlationID string, passedOptions ...InstanceOption) *Instance {
	opts := &instanceOpts{}

	for _, o := range passedOptions {
		if o != nil {
			o(opts)
		}
	}

	values := make(map[string]interface{}, len(initialContext))
	for k, v := range initialContext {
		values[k] = v
	}

	steps := make([]StepState, len(def.Steps))
	for i, sd := range def.Steps {
		steps[i] = StepState{Index: i, Name: sd.Name, Status: StepPending}
	}

	now := time.Now().Round(time.Millisecond).UTC()

	return &Instance{
		uid:           uuid.New().String(),
		parentID:      opts.parentID,
		definition:    def,
		correlationID: correlationID,
		values:        values,
		steps:         steps,
		status:        StatusRunning,
		startedAt:     &now,
		updatedAt:     &now,
	}
}

// Instance is the persisted state machine of one saga run. Mutated only by
// the orchestrator; stores persist it with an optimistic version check.
type Instance struct {
	uid           string
	parentID      string
	definition    Definition
	correlationID string
	values        map[string]interface{}
	steps         []StepState
	currentStep   int
	status        Status
	version       int64
	lastError     string
	history       []HistoryEvent
	startedAt     *time.Time
	updatedAt     *time.Time
}

func (i *Instance) UID() string {
	return i.uid
}

func (i *Instance) ParentID() string {
	return i.parentID
}

func (i *Instance) Definition() Definition {
	return i.definition
}

func (i *Instance) CorrelationID() string {
	return i.correlationID
}

func (i *Instance) Status() Status {
	return i.status
}

func (i *Instance) CurrentStep() int {
	return i.currentStep
}

func (i *Instance) Version() int64 {
	return i.version
}

func (i *Instance) LastError() string {
	return i.lastError
}

func (i *Instance) StartedAt() *time.Time {
	return i.startedAt
}

func (i *Instance) UpdatedAt() *time.Time {
	return i.updatedAt
}

func (i *Instance) StepStates() []StepState {
	states := make([]StepState, len(i.steps))
	copy(states, i.steps)
	return states
}

func (i *Instance) HistoryEvents() []HistoryEvent {
	return i.history
}

// Context returns the saga context view handed to steps
func (i *Instance) Context() *Context {
	return &Context{SagaID: i.uid, CorrelationID: i.correlationID, Values: i.values}
}

// MarkStepExecuted records a successful forward step, merges its output into
// the context and advances the index. Allowed only while running and only for
// the current index.
func (i *Instance) MarkStepExecuted(idx int, output map[string]interface{}) error {
	if !i.status.Running() {
		return errors.Errorf("saga %s is %s, steps advance only while running", i.uid, i.status)
	}

	if idx != i.currentStep {
		return errors.Errorf("saga %s is at step %d, cannot mark step %d executed", i.uid, i.currentStep, idx)
	}

	now := time.Now().Round(time.Millisecond).UTC()

	i.steps[idx].Status = StepExecuted
	i.steps[idx].Output = output
	i.steps[idx].ExecutedAt = &now

	for k, v := range output {
		i.values[k] = v
	}

	i.currentStep++
	i.touch()

	return nil
}

// BeginCompensation switches the saga to compensating. A saga never re-enters
// running after this point.
func (i *Instance) BeginCompensation(stepIdx int, cause error) error {
	if !i.status.Running() {
		return errors.Errorf("saga %s is %s, only a running saga starts compensating", i.uid, i.status)
	}

	if stepIdx >= 0 && stepIdx < len(i.steps) {
		i.steps[stepIdx].Status = StepFailed
		i.steps[stepIdx].Error = cause.Error()
	}

	i.status = StatusCompensating
	i.lastError = cause.Error()
	i.touch()

	return nil
}

// MarkStepCompensated records a successful compensation and moves the index
// back. Compensations run in strictly descending index order.
func (i *Instance) MarkStepCompensated(idx int) error {
	if !i.status.Compensating() {
		return errors.Errorf("saga %s is %s, compensations apply only while compensating", i.uid, i.status)
	}

	if idx != i.currentStep-1 {
		return errors.Errorf("saga %s must compensate step %d next, not %d", i.uid, i.currentStep-1, idx)
	}

	if i.steps[idx].Status != StepExecuted {
		return errors.Errorf("step %d of saga %s is %s, only executed steps compensate", idx, i.uid, i.steps[idx].Status)
	}

	now := time.Now().Round(time.Millisecond).UTC()

	i.steps[idx].Status = StepCompensated
	i.steps[idx].CompensatedAt = &now
	i.currentStep = idx
	i.touch()

	return nil
}

// Complete marks the saga finished after all steps executed
func (i *Instance) Complete() error {
	if !i.status.Running() {
		return errors.Errorf("saga %s is %s, cannot complete", i.uid, i.status)
	}

	if i.currentStep != len(i.steps) {
		return errors.Errorf("saga %s executed %d of %d steps, cannot complete", i.uid, i.currentStep, len(i.steps))
	}

	i.status = StatusCompleted
	i.touch()

	return nil
}

// MarkCompensated terminates the saga once every executed step was undone
func (i *Instance) MarkCompensated() error {
	if !i.status.Compensating() {
		return errors.Errorf("saga %s is %s, cannot mark compensated", i.uid, i.status)
	}

	i.status = StatusCompensated
	i.touch()

	return nil
}

// Fail terminates the saga after a compensation failure. Terminal, requires
// manual intervention: system state is not trusted to be reconciled
// automatically past this point.
func (i *Instance) Fail(cause error) error {
	if !i.status.Compensating() {
		return errors.Errorf("saga %s is %s, failure is recorded only while compensating", i.uid, i.status)
	}

	i.status = StatusFailed
	i.lastError = cause.Error()
	i.touch()

	return nil
}

func (i *Instance) AttachEvent(stepName, description string) {
	i.history = append(i.history, HistoryEvent{
		UID:         uuid.New().String(),
		CreatedAt:   time.Now().Round(time.Millisecond).UTC(),
		StepName:    stepName,
		SagaStatus:  i.status.String(),
		Description: description,
	})
}

func (i *Instance) touch() {
	now := time.Now().Round(time.Millisecond).UTC()
	i.updatedAt = &now
}

func (i *Instance) clone() *Instance {
	copied := *i

	copied.values = make(map[string]interface{}, len(i.values))
	for k, v := range i.values {
		copied.values[k] = v
	}

	copied.steps = make([]StepState, len(i.steps))
	copy(copied.steps, i.steps)

	copied.history = make([]HistoryEvent, len(i.history))
	copy(copied.history, i.history)

	return &copied
}
