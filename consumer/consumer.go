package consumer

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// Consumer is one competing member of a consumer group. It polls the group,
// processes deliveries through a worker pool and periodically reclaims
// entries stalled at other members. Gracefully shuts down either on os.Signal
// or ctx.Done() or Stop().
type Consumer interface {
	Run(ctx context.Context, groupName string) error
	Stop(ctx context.Context) error
}

// Config allows to configure the consumer workflow
type Config struct {
	// WorkersCount specifies a number of workers that process deliveries
	WorkersCount uint
	// BatchSize is the maximum number of events fetched by one poll
	BatchSize int
	// PollBlock is how long one poll waits for new events before returning empty
	PollBlock time.Duration
	// ProcessingMaxTime amount of time for a delivery to be processed
	ProcessingMaxTime time.Duration
	// ReclaimInterval is how often stalled entries of other members are looked up
	ReclaimInterval time.Duration
	// ReclaimIdleAfter is the claim age beyond which an entry counts as stalled
	ReclaimIdleAfter time.Duration
	// GracefulShutdownTimeout amount of time for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

var DefaultConfig = Config{
	WorkersCount:            10,
	BatchSize:               10,
	PollBlock:               time.Second * 2,
	ProcessingMaxTime:       time.Second * 60,
	ReclaimInterval:         time.Second * 30,
	ReclaimIdleAfter:        time.Minute,
	GracefulShutdownTimeout: time.Second * 61,
}

type consumerOpts struct {
	config *Config
	id     string
}

type Opt func(o *consumerOpts)

func WithConfig(c *Config) Opt {
	return func(o *consumerOpts) {
		o.config = c
	}
}

// WithConsumerID overrides the generated consumer identity
func WithConsumerID(id string) Opt {
	return func(o *consumerOpts) {
		o.id = id
	}
}

// NewConsumer creates the default consumer implementation
func NewConsumer(manager *Manager, processor Processor, logger log.Logger, opts ...Opt) Consumer {
	cOpts := &consumerOpts{}

	for _, o := range opts {
		o(cOpts)
	}

	config := &DefaultConfig

	if cOpts.config != nil {
		config = cOpts.config
	}

	id := cOpts.id
	if id == "" {
		id = uuid.New().String()
	}

	return &consumer{
		id:        id,
		manager:   manager,
		processor: processor,
		logger:    logger.WithFields(log.Fields{"consumerId": id}),
		pool:      newPool(config.WorkersCount),
		config:    config,
	}
}

type consumer struct {
	id        string
	manager   *Manager
	processor Processor
	logger    log.Logger
	pool      *pool
	config    *Config
}

func (c *consumer) Run(ctx context.Context, groupName string) error {
	c.logger.Logf(log.InfoLevel, "Started consumer. Listening to group: %s", groupName)

	signalChan := make(chan os.Signal, 1)
	defer close(signalChan)

	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	fetchCtx, cancelFetchCtx := context.WithCancel(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.config.GracefulShutdownTimeout)
	defer shutdownCancel()
	defer cancelFetchCtx()

	deliveries := make(chan *stream.Event)

	go c.fetch(fetchCtx, groupName, deliveries)

	c.pool.start(fetchCtx)

	for {
		select {
		case ev, open := <-deliveries:
			if !open {
				return nil
			}
			// an undispatched delivery stays pending in the group and gets
			// reclaimed later
			if !c.pool.dispatch(fetchCtx, newProcessTask(ctx, ev, groupName, c)) {
				c.logger.Logf(log.DebugLevel, "shutting down, delivery %s left pending", ev.ID)
			}
		case <-ctx.Done():
			c.logger.Logf(log.InfoLevel, "Consumer's context was canceled")
			if err := c.Stop(shutdownCtx); err != nil {
				c.logger.Logf(log.ErrorLevel, "error stopping consumer gracefully %s", err)
				return errors.Wrapf(err, "stopping consumer gracefully")
			}
			return nil
		case <-signalChan:
			c.logger.Logf(log.InfoLevel, "Received kill signal")
			if err := c.Stop(shutdownCtx); err != nil {
				c.logger.Logf(log.ErrorLevel, "error stopping consumer gracefully %s", err)
				return errors.Wrapf(err, "stopping consumer gracefully")
			}
			return nil
		}
	}
}

// fetch keeps polling the group and pushes deliveries into the channel.
// Reclaimed entries of stalled members go through the same channel.
func (c *consumer) fetch(ctx context.Context, groupName string, deliveries chan<- *stream.Event) {
	defer close(deliveries)

	reclaimTicker := time.NewTicker(c.config.ReclaimInterval)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			reclaimed, err := c.manager.Reclaim(ctx, groupName, c.id, c.config.ReclaimIdleAfter)

			if err != nil {
				c.logger.Logf(log.ErrorLevel, "reclaiming stalled entries of group %s: %s", groupName, err)
				continue
			}

			if !c.push(ctx, reclaimed, deliveries) {
				return
			}
		default:
			polled, err := c.manager.Poll(ctx, groupName, c.id, c.config.BatchSize, c.config.PollBlock)

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Logf(log.ErrorLevel, "polling group %s: %s", groupName, err)
				continue
			}

			if !c.push(ctx, polled, deliveries) {
				return
			}
		}
	}
}

func (c *consumer) push(ctx context.Context, events []*stream.Event, deliveries chan<- *stream.Event) bool {
	for _, ev := range events {
		select {
		case <-ctx.Done():
			return false
		case deliveries <- ev:
		}
	}

	return true
}

func (c *consumer) processDelivery(ctx context.Context, groupName string, ev *stream.Event) {
	processorCtx, processorCancel := context.WithTimeout(ctx, c.config.ProcessingMaxTime)
	defer processorCancel()

	c.logger.Logf(log.DebugLevel, "started processing delivery %s", ev.ID)

	if err := c.processor.Process(processorCtx, ev); err != nil {
		// outcome wasn't recorded, leave the entry pending so it gets reclaimed
		c.logger.Logf(log.ErrorLevel, "error happened while processing delivery %s seq %d. %s\n", ev.ID, ev.SequenceNumber, err)
		return
	}

	if err := c.manager.Ack(processorCtx, groupName, ev.ID); err != nil {
		c.logger.Logf(log.ErrorLevel, "error acking delivery %s. %s", ev.ID, err)
		return
	}

	c.logger.Logf(log.DebugLevel, "acked delivery %s", ev.ID)
}

func (c *consumer) Stop(ctx context.Context) error {
	if c.pool.busyWorkers() > 0 {
		c.logger.Logf(log.InfoLevel, "Graceful shutdown. Waiting consumer for finishing %d deliveries in progress", c.pool.busyWorkers())
	}

	waitingTicker := time.NewTicker(time.Second)
	defer waitingTicker.Stop()

	for c.pool.busyWorkers() > 0 {
		select {
		case <-ctx.Done():
			c.logger.Logf(log.WarnLevel, "Stopped consumer because of canceled parent ctx")
			return nil
		case <-waitingTicker.C:
			c.logger.Logf(log.InfoLevel, "Waiting for deliveries to be processed. Deliveries in progress: %d", c.pool.busyWorkers())
		}
	}

	c.logger.Logf(log.InfoLevel, "All deliveries are processed. Stopped consumer.")

	return nil
}

type processTask struct {
	ctx       context.Context
	ev        *stream.Event
	groupName string
	consumer  *consumer
}

func newProcessTask(ctx context.Context, ev *stream.Event, groupName string, consumer *consumer) *processTask {
	return &processTask{
		ctx:       ctx,
		ev:        ev,
		groupName: groupName,
		consumer:  consumer,
	}
}

func (t *processTask) do() {
	t.consumer.processDelivery(t.ctx, t.groupName, t.ev)
}
