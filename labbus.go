// Package labbus wires event streams, competing consumers, retry scheduling
// and saga orchestration into one coordination layer for laboratory services.
package labbus

import (
	"context"
	"time"

	"github.com/openlims/labbus/config"
	"github.com/openlims/labbus/consumer"
	"github.com/openlims/labbus/handler"
	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/observability"
	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/saga"
	"github.com/openlims/labbus/saga/mutex"
	"github.com/openlims/labbus/stream"
	"github.com/openlims/labbus/stream/memory"
	"github.com/pkg/errors"
)

// ConfigOption allows to configure Bus's container
type ConfigOption func(c *container)

type container struct {
	streamStore     stream.Store
	processingStore retry.Store
	sagaStore       saga.Store
	sagaMutex       mutex.Mutex
	metrics         *observability.Metrics
	relays          []stream.Relay
	consumerOpts    []consumer.Opt
	schedulerConfig retry.Config
	trimInterval    time.Duration
	lifecycleStream string
}

// WithStreamStore overrides the in-memory stream store, e.g. with a SQL one
func WithStreamStore(store stream.Store) ConfigOption {
	return func(c *container) {
		c.streamStore = store
	}
}

// WithProcessingStore overrides where retry state is persisted
func WithProcessingStore(store retry.Store) ConfigOption {
	return func(c *container) {
		c.processingStore = store
	}
}

// WithSagaStore overrides where saga instances are persisted
func WithSagaStore(store saga.Store) ConfigOption {
	return func(c *container) {
		c.sagaStore = store
	}
}

// WithSagaMutex overrides the in-process saga mutex, required when running
// several replicas against one saga store
func WithSagaMutex(m mutex.Mutex) ConfigOption {
	return func(c *container) {
		c.sagaMutex = m
	}
}

// WithMetrics attaches OpenTelemetry counters to publishing, processing and
// saga transitions
func WithMetrics(metrics *observability.Metrics) ConfigOption {
	return func(c *container) {
		c.metrics = metrics
	}
}

// WithRelays attaches push-delivery relays to the publisher
func WithRelays(relays ...stream.Relay) ConfigOption {
	return func(c *container) {
		c.relays = append(c.relays, relays...)
	}
}

// WithConsumerOpts passes options through to the consumer
func WithConsumerOpts(opts ...consumer.Opt) ConfigOption {
	return func(c *container) {
		c.consumerOpts = append(c.consumerOpts, opts...)
	}
}

// WithSchedulerConfig tunes the retry sweep
func WithSchedulerConfig(config retry.Config) ConfigOption {
	return func(c *container) {
		c.schedulerConfig = config
	}
}

// WithTrimInterval tunes how often the retention sweeper expires old events
func WithTrimInterval(interval time.Duration) ConfigOption {
	return func(c *container) {
		c.trimInterval = interval
	}
}

// WithConsumerConfig maps the consumer section of the config file onto the
// consumer, keeping defaults for fields the file leaves out
func WithConsumerConfig(c config.Consumer) ConfigOption {
	return func(opts *container) {
		mapped := consumer.DefaultConfig

		if c.WorkersCount > 0 {
			mapped.WorkersCount = uint(c.WorkersCount)
		}

		if c.BatchSize > 0 {
			mapped.BatchSize = c.BatchSize
		}

		if c.PollBlock.Duration > 0 {
			mapped.PollBlock = c.PollBlock.Duration
		}

		if c.ProcessingMaxTime.Duration > 0 {
			mapped.ProcessingMaxTime = c.ProcessingMaxTime.Duration
		}

		if c.ReclaimInterval.Duration > 0 {
			mapped.ReclaimInterval = c.ReclaimInterval.Duration
		}

		if c.ReclaimIdleAfter.Duration > 0 {
			mapped.ReclaimIdleAfter = c.ReclaimIdleAfter.Duration
		}

		opts.consumerOpts = append(opts.consumerOpts, consumer.WithConfig(&mapped))
	}
}

// WithSagaLifecycleStream makes the orchestrator publish saga lifecycle
// events to the named stream. The stream must be registered by the caller.
func WithSagaLifecycleStream(name string) ConfigOption {
	return func(c *container) {
		c.lifecycleStream = name
	}
}

// Bus is the main component, a container which aggregates and wires the rest
type Bus struct {
	logger log.Logger

	streams     *stream.Registry
	streamStore stream.Store
	publisher   stream.Publisher
	sweeper     *stream.Sweeper

	handlers  *handler.Registry
	tracker   *retry.Tracker
	processor consumer.Processor
	manager   *consumer.Manager
	consumer  consumer.Consumer
	scheduler *retry.Scheduler

	sagaSteps       *saga.StepRegistry
	sagaDefinitions *saga.DefinitionRegistry
	sagaStore       saga.Store
	orchestrator    *saga.Orchestrator
}

// NewBus constructs the Bus with in-memory defaults: memory stream store,
// memory processing store, memory saga store and an in-process saga mutex.
// Production deployments override the stores and the mutex via options.
func NewBus(logger log.Logger, configOpts ...ConfigOption) (*Bus, error) {
	opts := &container{}

	for _, config := range configOpts {
		config(opts)
	}

	if opts.streamStore == nil {
		opts.streamStore = memory.NewStore()
	}

	if opts.processingStore == nil {
		opts.processingStore = retry.NewInMemoryStore()
	}

	if opts.sagaStore == nil {
		opts.sagaStore = saga.NewInMemoryStore()
	}

	if opts.sagaMutex == nil {
		opts.sagaMutex = mutex.NewInProcessMutex()
	}

	b := &Bus{logger: logger}

	b.streams = stream.NewRegistry()
	b.streamStore = opts.streamStore

	publisherOpts := make([]stream.PublisherOption, 0, len(opts.relays)+1)

	for _, relay := range opts.relays {
		publisherOpts = append(publisherOpts, stream.WithRelay(relay))
	}

	if opts.metrics != nil {
		publisherOpts = append(publisherOpts, stream.WithRelay(opts.metrics))
	}

	b.publisher = stream.NewPublisher(b.streams, b.streamStore, logger, publisherOpts...)
	b.sweeper = stream.NewSweeper(b.streams, b.streamStore, logger, opts.trimInterval)

	b.handlers = handler.NewRegistry()
	b.tracker = retry.NewTracker(opts.processingStore)
	b.processor = consumer.NewProcessor(b.handlers, b.tracker, logger, consumer.WithProcessorMetrics(opts.metrics))
	b.manager = consumer.NewManager(b.streams, b.streamStore, logger)
	b.consumer = consumer.NewConsumer(b.manager, b.processor, logger, opts.consumerOpts...)
	b.scheduler = retry.NewScheduler(opts.processingStore, b.streamStore, b.processor, logger, opts.schedulerConfig)

	b.sagaSteps = saga.NewStepRegistry()
	b.sagaDefinitions = saga.NewDefinitionRegistry()
	b.sagaStore = opts.sagaStore

	orchestratorOpts := []saga.OrchestratorOption{saga.WithOrchestratorMetrics(opts.metrics)}

	if opts.lifecycleStream != "" {
		orchestratorOpts = append(orchestratorOpts, saga.WithLifecyclePublisher(b.publisher, opts.lifecycleStream))
	}

	b.orchestrator = saga.NewOrchestrator(b.sagaDefinitions, b.sagaSteps, b.sagaStore, opts.sagaMutex, logger, orchestratorOpts...)

	return b, nil
}

// Run subscribes to groupName and blocks running the consumer, the retry
// scheduler and the retention sweeper until ctx is canceled.
func (b *Bus) Run(ctx context.Context, groupName, streamName string) error {
	if err := b.manager.Subscribe(ctx, streamName, groupName); err != nil {
		return err
	}

	go func() {
		if err := b.scheduler.Run(ctx); err != nil {
			b.logger.Log(log.ErrorLevel, err)
		}
	}()

	go func() {
		if err := b.sweeper.Run(ctx); err != nil {
			b.logger.Log(log.ErrorLevel, err)
		}
	}()

	return b.consumer.Run(ctx, groupName)
}

// RegisterConfiguredHandlers registers the handlers section of the config
// file. Stream, event-type filter, priority and retry policy come from the
// file; the function of each handler id comes from code.
func (b *Bus) RegisterConfiguredHandlers(handlers []config.Handler, funcs map[string]handler.Func) error {
	for _, h := range handlers {
		fn, exists := funcs[h.ID]
		if !exists {
			return errors.Errorf("configured handler %s has no function bound", h.ID)
		}

		var opts []handler.Option

		if len(h.EventTypes) > 0 {
			opts = append(opts, handler.WithFilter(&handler.Filter{EventTypes: h.EventTypes}))
		}

		if h.Priority != 0 {
			opts = append(opts, handler.WithPriority(h.Priority))
		}

		if h.Retry != nil {
			delays := make([]time.Duration, len(h.Retry.BackoffDelays))
			for i, d := range h.Retry.BackoffDelays {
				delays[i] = d.Duration
			}

			opts = append(opts, handler.WithRetryPolicy(retry.Policy{
				MaxRetries:      h.Retry.MaxRetries,
				BackoffDelays:   delays,
				DeadLetterAfter: h.Retry.DeadLetterAfter,
			}))
		}

		if _, err := b.handlers.Register(h.ID, h.Stream, fn, opts...); err != nil {
			return errors.Wrapf(err, "registering configured handler %s", h.ID)
		}
	}

	return nil
}

// Streams returns the stream registry
func (b *Bus) Streams() *stream.Registry {
	return b.streams
}

// StreamStore returns the underlying stream store
func (b *Bus) StreamStore() stream.Store {
	return b.streamStore
}

// Publisher returns the event publisher
func (b *Bus) Publisher() stream.Publisher {
	return b.publisher
}

// RetentionSweeper returns the background pass expiring events past retention
func (b *Bus) RetentionSweeper() *stream.Sweeper {
	return b.sweeper
}

// Handlers returns the handler registry
func (b *Bus) Handlers() *handler.Registry {
	return b.handlers
}

// Tracker returns the processing tracker
func (b *Bus) Tracker() *retry.Tracker {
	return b.tracker
}

// Manager returns the consumer group manager
func (b *Bus) Manager() *consumer.Manager {
	return b.manager
}

// Consumer returns the competing consumer
func (b *Bus) Consumer() consumer.Consumer {
	return b.consumer
}

// Scheduler returns the retry scheduler
func (b *Bus) Scheduler() *retry.Scheduler {
	return b.scheduler
}

// SagaSteps returns the step registry
func (b *Bus) SagaSteps() *saga.StepRegistry {
	return b.sagaSteps
}

// SagaDefinitions returns the definition registry
func (b *Bus) SagaDefinitions() *saga.DefinitionRegistry {
	return b.sagaDefinitions
}

// SagaStore returns the saga store
func (b *Bus) SagaStore() saga.Store {
	return b.sagaStore
}

// Orchestrator returns the saga orchestrator
func (b *Bus) Orchestrator() *saga.Orchestrator {
	return b.orchestrator
}

// Logger returns an instance of logger
func (b *Bus) Logger() log.Logger {
	return b.logger
}
