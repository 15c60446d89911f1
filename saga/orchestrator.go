package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/observability"
	"github.com/openlims/labbus/saga/mutex"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// Lifecycle event types the orchestrator publishes back onto the bus
const (
	EventStepCompleted      = "saga.step.completed"
	EventStepFailed         = "saga.step.failed"
	EventStepCompensated    = "saga.step.compensated"
	EventSagaCompleted      = "saga.completed"
	EventSagaCompensated    = "saga.compensated"
	EventCompensationFailed = "saga.compensation_failed"
)

// CompensationFailedError is terminal: the saga moved to failed and requires
// manual intervention.
type CompensationFailedError struct {
	error
}

func WithCompensationFailedErr(err error) error {
	return CompensationFailedError{err}
}

func IsCompensationFailedErr(err error) bool {
	type causer interface {
		Cause() error
	}

	for err != nil {
		if _, ok := err.(CompensationFailedError); ok {
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

const defaultStepTimeout = time.Second * 30

type orchestratorOpts struct {
	publisher       stream.Publisher
	lifecycleStream string
	metrics         *observability.Metrics
	stepTimeout     time.Duration
}

type OrchestratorOption func(o *orchestratorOpts)

// WithLifecyclePublisher makes the orchestrator publish step and saga
// lifecycle events to the given stream.
func WithLifecyclePublisher(publisher stream.Publisher, streamName string) OrchestratorOption {
	return func(o *orchestratorOpts) {
		o.publisher = publisher
		o.lifecycleStream = streamName
	}
}

func WithOrchestratorMetrics(metrics *observability.Metrics) OrchestratorOption {
	return func(o *orchestratorOpts) {
		o.metrics = metrics
	}
}

// WithDefaultStepTimeout overrides the timeout applied to steps whose
// descriptor doesn't set one.
func WithDefaultStepTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *orchestratorOpts) {
		o.stepTimeout = timeout
	}
}

// Orchestrator executes saga instances: forward while running, reverse-order
// compensations once a step failed. Many instances may run concurrently, a
// single instance is serialized by the mutex plus the store's version check.
type Orchestrator struct {
	definitions *DefinitionRegistry
	steps       *StepRegistry
	store       Store
	sagaMutex   mutex.Mutex
	logger      log.Logger

	publisher       stream.Publisher
	lifecycleStream string
	metrics         *observability.Metrics
	stepTimeout     time.Duration
}

func NewOrchestrator(definitions *DefinitionRegistry, steps *StepRegistry, store Store, sagaMutex mutex.Mutex, logger log.Logger, options ...OrchestratorOption) *Orchestrator {
	opts := &orchestratorOpts{stepTimeout: defaultStepTimeout}

	for _, o := range options {
		if o != nil {
			o(opts)
		}
	}

	return &Orchestrator{
		definitions:     definitions,
		steps:           steps,
		store:           store,
		sagaMutex:       sagaMutex,
		logger:          logger,
		publisher:       opts.publisher,
		lifecycleStream: opts.lifecycleStream,
		metrics:         opts.metrics,
		stepTimeout:     opts.stepTimeout,
	}
}

// Start creates a new instance of the definition and persists it. The
// instance is not advanced yet, call Run for that.
func (o *Orchestrator) Start(ctx context.Context, definitionName string, initialContext map[string]interface{}, correlationID string, options ...InstanceOption) (*Instance, error) {
	def, err := o.definitions.Get(definitionName)

	if err != nil {
		return nil, errors.Wrap(err, "starting saga")
	}

	// resolve every step upfront so a saga never fails halfway on a missing registration
	for _, sd := range def.Steps {
		if _, err := o.steps.Get(sd.Name); err != nil {
			return nil, errors.Wrapf(err, "definition %s is not executable", definitionName)
		}
	}

	instance := NewInstance(def, initialContext, correlationID, options...)
	instance.AttachEvent("", fmt.Sprintf("saga %s started", definitionName))

	if err := o.store.Create(ctx, instance); err != nil {
		return nil, errors.Wrapf(err, "persisting new saga of definition %s", definitionName)
	}

	return instance, nil
}

// Run advances the saga until a terminal status: executes remaining steps
// while running, or finishes compensation when resumed in compensating. Safe
// to call again after a crash, executed steps are never re-run.
func (o *Orchestrator) Run(ctx context.Context, sagaUID string) error {
	//lock saga so no other orchestrator replica advances it concurrently
	if err := o.sagaMutex.Lock(ctx, sagaUID); err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		if err := o.sagaMutex.Release(ctx, sagaUID); err != nil {
			o.logger.Log(log.ErrorLevel, err)
		}
	}()

	instance, err := o.store.GetByID(ctx, sagaUID)

	if err != nil {
		return errors.Wrapf(err, "loading saga %s from store", sagaUID)
	}

	if instance == nil {
		return errors.Errorf("saga %s not found", sagaUID)
	}

	if instance.Status().Terminal() {
		o.logger.Logf(log.DebugLevel, "saga %s is already %s, nothing to run", sagaUID, instance.Status())
		return nil
	}

	if instance.Status().Running() {
		if err := o.advance(ctx, instance); err != nil {
			return errors.WithStack(err)
		}
	}

	if instance.Status().Compensating() {
		if err := o.compensate(ctx, instance); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// Cancel forces a running saga into compensation. Not honored once
// compensation has begun.
func (o *Orchestrator) Cancel(ctx context.Context, sagaUID string) error {
	if err := o.sagaMutex.Lock(ctx, sagaUID); err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		if err := o.sagaMutex.Release(ctx, sagaUID); err != nil {
			o.logger.Log(log.ErrorLevel, err)
		}
	}()

	instance, err := o.store.GetByID(ctx, sagaUID)

	if err != nil {
		return errors.Wrapf(err, "loading saga %s from store", sagaUID)
	}

	if instance == nil {
		return errors.Errorf("saga %s not found", sagaUID)
	}

	if !instance.Status().Running() {
		return errors.Errorf("saga %s is %s, only running sagas can be cancelled", sagaUID, instance.Status())
	}

	if err := instance.BeginCompensation(-1, errors.New("cancelled by operator")); err != nil {
		return errors.WithStack(err)
	}

	instance.AttachEvent("", "saga cancelled, compensating executed steps")

	if err := o.store.Update(ctx, instance); err != nil {
		return errors.Wrapf(err, "persisting cancellation of saga %s", sagaUID)
	}

	return errors.WithStack(o.compensate(ctx, instance))
}

// Status returns the current instance state
func (o *Orchestrator) Status(ctx context.Context, sagaUID string) (*Instance, error) {
	instance, err := o.store.GetByID(ctx, sagaUID)

	if err != nil {
		return nil, errors.Wrapf(err, "loading saga %s from store", sagaUID)
	}

	if instance == nil {
		return nil, errors.Errorf("saga %s not found", sagaUID)
	}

	return instance, nil
}

func (o *Orchestrator) advance(ctx context.Context, instance *Instance) error {
	def := instance.Definition()

	// the persisted current step index makes resume idempotent: steps below it
	// already executed and are never re-run
	for instance.Status().Running() && instance.CurrentStep() < len(def.Steps) {
		idx := instance.CurrentStep()
		sd := def.Steps[idx]

		step, err := o.steps.Get(sd.Name)

		if err != nil {
			return errors.Wrapf(err, "resolving step %d of saga %s", idx, instance.UID())
		}

		output, stepErr := o.executeStep(ctx, step, sd, instance)

		if stepErr != nil {
			o.logger.WithFields(log.Fields{"sagaId": instance.UID(), "step": sd.Name}).
				Logf(log.ErrorLevel, "step %d failed, compensating: %s", idx, stepErr)

			if err := instance.BeginCompensation(idx, stepErr); err != nil {
				return errors.WithStack(err)
			}

			instance.AttachEvent(sd.Name, fmt.Sprintf("step %d failed: %s", idx, stepErr))

			if err := o.store.Update(ctx, instance); err != nil {
				return errors.Wrapf(err, "persisting failure of step %d of saga %s", idx, instance.UID())
			}

			o.publishLifecycle(ctx, instance, EventStepFailed, sd.Name, idx)

			return nil
		}

		if err := instance.MarkStepExecuted(idx, output); err != nil {
			return errors.WithStack(err)
		}

		instance.AttachEvent(sd.Name, fmt.Sprintf("step %d executed", idx))

		if err := o.store.Update(ctx, instance); err != nil {
			return errors.Wrapf(err, "persisting execution of step %d of saga %s", idx, instance.UID())
		}

		o.publishLifecycle(ctx, instance, EventStepCompleted, sd.Name, idx)
	}

	if instance.Status().Running() {
		if err := instance.Complete(); err != nil {
			return errors.WithStack(err)
		}

		instance.AttachEvent("", "saga completed")

		if err := o.store.Update(ctx, instance); err != nil {
			return errors.Wrapf(err, "persisting completion of saga %s", instance.UID())
		}

		o.publishLifecycle(ctx, instance, EventSagaCompleted, "", instance.CurrentStep())
		o.metrics.SagaCompleted(ctx, instance.Definition().Name)
	}

	return nil
}

// compensate undoes executed steps in strictly descending index order, the
// exact reverse of forward execution.
func (o *Orchestrator) compensate(ctx context.Context, instance *Instance) error {
	def := instance.Definition()
	states := instance.StepStates()

	for idx := instance.CurrentStep() - 1; idx >= 0; idx-- {
		if states[idx].Status != StepExecuted {
			// a crash between the failed step and the first compensation
			// leaves non-executed states here, nothing to undo
			if err := o.skipCompensation(instance, idx); err != nil {
				return errors.WithStack(err)
			}
			continue
		}

		sd := def.Steps[idx]

		step, err := o.steps.Get(sd.Name)

		if err != nil {
			return errors.Wrapf(err, "resolving step %d of saga %s", idx, instance.UID())
		}

		if compErr := o.compensateStep(ctx, step, sd, instance); compErr != nil {
			o.logger.WithFields(log.Fields{"sagaId": instance.UID(), "step": sd.Name}).
				Logf(log.ErrorLevel, "compensation of step %d failed, saga requires manual intervention: %s", idx, compErr)

			if err := instance.Fail(compErr); err != nil {
				return errors.WithStack(err)
			}

			instance.AttachEvent(sd.Name, fmt.Sprintf("compensation of step %d failed: %s", idx, compErr))

			if err := o.store.Update(ctx, instance); err != nil {
				return errors.Wrapf(err, "persisting failure of saga %s", instance.UID())
			}

			o.publishLifecycle(ctx, instance, EventCompensationFailed, sd.Name, idx)
			o.metrics.SagaFailed(ctx, def.Name)

			return WithCompensationFailedErr(errors.Wrapf(compErr, "compensating step %d of saga %s", idx, instance.UID()))
		}

		if err := instance.MarkStepCompensated(idx); err != nil {
			return errors.WithStack(err)
		}

		instance.AttachEvent(sd.Name, fmt.Sprintf("step %d compensated", idx))

		if err := o.store.Update(ctx, instance); err != nil {
			return errors.Wrapf(err, "persisting compensation of step %d of saga %s", idx, instance.UID())
		}

		o.publishLifecycle(ctx, instance, EventStepCompensated, sd.Name, idx)
	}

	if err := instance.MarkCompensated(); err != nil {
		return errors.WithStack(err)
	}

	instance.AttachEvent("", "saga compensated")

	if err := o.store.Update(ctx, instance); err != nil {
		return errors.Wrapf(err, "persisting compensated saga %s", instance.UID())
	}

	o.publishLifecycle(ctx, instance, EventSagaCompensated, "", 0)
	o.metrics.SagaCompensated(ctx, def.Name)

	return nil
}

func (o *Orchestrator) executeStep(ctx context.Context, step Step, sd StepDescriptor, instance *Instance) (map[string]interface{}, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.timeoutFor(sd))
	defer cancel()

	output, err := step.Execute(stepCtx, instance.Context())

	// a timed-out step is a failed step
	if err == nil && stepCtx.Err() != nil {
		err = stepCtx.Err()
	}

	return output, err
}

func (o *Orchestrator) compensateStep(ctx context.Context, step Step, sd StepDescriptor, instance *Instance) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.timeoutFor(sd))
	defer cancel()

	return step.Compensate(stepCtx, instance.Context())
}

// skipCompensation moves the index over a step that never executed
func (o *Orchestrator) skipCompensation(instance *Instance, idx int) error {
	if idx != instance.CurrentStep()-1 {
		return errors.Errorf("saga %s compensation index out of order: %d", instance.UID(), idx)
	}

	instance.currentStep = idx

	return nil
}

func (o *Orchestrator) timeoutFor(sd StepDescriptor) time.Duration {
	if sd.Timeout > 0 {
		return sd.Timeout
	}

	return o.stepTimeout
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, instance *Instance, eventType, stepName string, stepIdx int) {
	if o.publisher == nil {
		return
	}

	payload := map[string]interface{}{
		"saga_id":    instance.UID(),
		"definition": instance.Definition().Name,
		"status":     instance.Status().String(),
		"step_index": stepIdx,
	}

	if stepName != "" {
		payload["step"] = stepName
	}

	_, err := o.publisher.Publish(ctx, o.lifecycleStream, eventType, payload,
		stream.WithSource("saga-orchestrator"),
		stream.WithCorrelationID(instance.CorrelationID()),
	)

	if err != nil {
		o.logger.Logf(log.ErrorLevel, "publishing %s for saga %s: %s", eventType, instance.UID(), err)
	}
}
