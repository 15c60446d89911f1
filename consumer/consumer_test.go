package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlims/labbus/handler"
	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/stream"
	"github.com/openlims/labbus/stream/memory"
	testLog "github.com/openlims/labbus/testing/log"
)

func TestConsumerProcessesAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := testLog.NewNilLogger()

	registry := stream.NewRegistry()
	_, err := registry.Create("samples")
	require.NoError(t, err)

	store := memory.NewStore()
	manager := NewManager(registry, store, logger)
	require.NoError(t, manager.Subscribe(ctx, "samples", "workers"))

	handlers := handler.NewRegistry()
	tracker := retry.NewTracker(retry.NewInMemoryStore())

	var mutex sync.Mutex
	var handled []string

	_, err = handlers.Register("notify", "samples", func(ctx context.Context, ev *stream.Event) error {
		mutex.Lock()
		defer mutex.Unlock()
		handled = append(handled, ev.Type)
		return nil
	})
	require.NoError(t, err)

	processor := NewProcessor(handlers, tracker, logger)

	config := DefaultConfig
	config.WorkersCount = 2
	config.PollBlock = time.Millisecond * 50
	config.ReclaimInterval = time.Hour

	c := NewConsumer(manager, processor, logger, WithConfig(&config), WithConsumerID("test-consumer"))

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, "workers")
	}()

	for _, eventType := range []string{"sample.registered", "sample.accepted", "sample.resulted"} {
		_, err := store.Append(ctx, stream.NewEvent("samples", eventType, nil))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(handled) == 3
	}, time.Second*5, time.Millisecond*20)

	// processed deliveries must be acked
	assert.Eventually(t, func() bool {
		pending, err := manager.Pending(ctx, "workers")
		return err == nil && len(pending) == 0
	}, time.Second*5, time.Millisecond*20)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("consumer did not stop after context cancellation")
	}
}

func TestConsumerLeavesFailedRecordingPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := testLog.NewNilLogger()

	registry := stream.NewRegistry()
	_, err := registry.Create("samples")
	require.NoError(t, err)

	store := memory.NewStore()
	manager := NewManager(registry, store, logger)
	require.NoError(t, manager.Subscribe(ctx, "samples", "workers"))

	config := DefaultConfig
	config.WorkersCount = 1
	config.PollBlock = time.Millisecond * 50
	config.ReclaimInterval = time.Hour

	c := NewConsumer(manager, failingProcessor{}, logger, WithConfig(&config))

	go func() {
		//nolint:errcheck
		c.Run(ctx, "workers")
	}()

	ev, err := store.Append(ctx, stream.NewEvent("samples", "sample.registered", nil))
	require.NoError(t, err)

	// the outcome was never recorded, so the entry must stay pending for reclaim
	time.Sleep(time.Millisecond * 300)

	pending, err := manager.Pending(ctx, "workers")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].EventID)
}

type failingProcessor struct{}

func (failingProcessor) Process(ctx context.Context, ev *stream.Event) error {
	return assert.AnError
}

func (failingProcessor) Invoke(ctx context.Context, ev *stream.Event, handlerID string) error {
	return assert.AnError
}
