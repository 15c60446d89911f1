package retry

import (
	"context"
	"time"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// Invoker redelivers an event to a single handler. Implemented by the consumer
// package's processor; attempt bookkeeping happens inside the invoker.
type Invoker interface {
	Invoke(ctx context.Context, ev *stream.Event, handlerID string) error
}

// Config tunes the background sweep
type Config struct {
	// SweepInterval is how often due rows are looked up
	SweepInterval time.Duration
	// BatchSize caps how many due rows one sweep picks up
	BatchSize int
}

var DefaultConfig = Config{
	SweepInterval: time.Second,
	BatchSize:     100,
}

// Scheduler is the periodic background sweep that redelivers retrying rows
// once their NextRetryAt has passed. Rows in dead_letter are never touched.
type Scheduler struct {
	store   Store
	streams stream.Store
	invoker Invoker
	config  Config
	logger  log.Logger
}

func NewScheduler(store Store, streams stream.Store, invoker Invoker, logger log.Logger, config Config) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig.SweepInterval
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig.BatchSize
	}

	return &Scheduler{store: store, streams: streams, invoker: invoker, config: config, logger: logger}
}

// Run sweeps until ctx is canceled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Logf(log.InfoLevel, "started retry scheduler, sweeping every %s", s.config.SweepInterval)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Log(log.InfoLevel, "retry scheduler's context was canceled")
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Logf(log.ErrorLevel, "sweeping due retries: %s", err)
			}
		}
	}
}

// Sweep runs one pass over due rows
func (s *Scheduler) Sweep(ctx context.Context) error {
	due, err := s.store.Due(ctx, time.Now().UTC(), s.config.BatchSize)

	if err != nil {
		return errors.Wrap(err, "querying due processing rows")
	}

	for _, p := range due {
		ev, err := s.loadEvent(ctx, p)

		if err != nil {
			s.logger.Logf(log.ErrorLevel, "loading event %s for redelivery: %s", p.EventID, err)
			continue
		}

		if ev == nil {
			s.logger.Logf(log.WarnLevel, "event %s of stream %s expired before redelivery to handler %s", p.EventID, p.Stream, p.HandlerID)
			continue
		}

		if err := s.invoker.Invoke(ctx, ev, p.HandlerID); err != nil {
			s.logger.Logf(log.ErrorLevel, "redelivering event %s to handler %s: %s", p.EventID, p.HandlerID, err)
		}
	}

	return nil
}

func (s *Scheduler) loadEvent(ctx context.Context, p *Processing) (*stream.Event, error) {
	events, err := s.streams.ReadFrom(ctx, p.Stream, p.SequenceNumber, 1)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	if len(events) == 0 || events[0].ID != p.EventID {
		return nil, nil
	}

	return events[0], nil
}
