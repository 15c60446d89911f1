package stream

import (
	"context"
	"time"

	"github.com/openlims/labbus/log"
	"github.com/pkg/errors"
)

// DefaultTrimInterval is how often the sweeper enforces retention when no
// interval is configured.
const DefaultTrimInterval = time.Minute * 5

// Sweeper is the periodic background pass that expires events past their
// stream's retention. Streams registered without retention are never trimmed.
type Sweeper struct {
	registry *Registry
	store    Store
	logger   log.Logger
	interval time.Duration
}

func NewSweeper(registry *Registry, store Store, logger log.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultTrimInterval
	}

	return &Sweeper{registry: registry, store: store, logger: logger, interval: interval}
}

// Run trims until ctx is canceled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Logf(log.InfoLevel, "started retention sweeper, trimming every %s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Log(log.InfoLevel, "retention sweeper's context was canceled")
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Logf(log.ErrorLevel, "trimming expired events: %s", err)
			}
		}
	}
}

// Sweep runs one pass over all registered streams
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	for _, def := range s.registry.List() {
		if def.Retention <= 0 {
			continue
		}

		trimmed, err := s.store.Trim(ctx, def.Name, now.Add(-def.Retention))

		if err != nil {
			return errors.Wrapf(err, "trimming stream %s", def.Name)
		}

		if trimmed > 0 {
			s.logger.Logf(log.DebugLevel, "trimmed %d expired events of stream %s", trimmed, def.Name)
		}
	}

	return nil
}
