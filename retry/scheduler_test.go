package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/stream"
	"github.com/openlims/labbus/stream/memory"
	testLog "github.com/openlims/labbus/testing/log"
)

type recordingInvoker struct {
	invoked []string
	err     error
}

func (i *recordingInvoker) Invoke(ctx context.Context, ev *stream.Event, handlerID string) error {
	i.invoked = append(i.invoked, ev.ID+"/"+handlerID)
	return i.err
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	logger := testLog.NewNilLogger()

	t.Run("redelivers due rows in priority order", func(t *testing.T) {
		streams := memory.NewStore()
		store := retry.NewInMemoryStore()
		invoker := &recordingInvoker{}

		low, err := streams.Append(ctx, stream.NewEvent("samples", "a", nil))
		require.NoError(t, err)
		high, err := streams.Append(ctx, stream.NewEvent("samples", "b", nil))
		require.NoError(t, err)

		past := time.Now().Add(-time.Second)

		require.NoError(t, store.Create(ctx, &retry.Processing{
			EventID: low.ID, HandlerID: "handler-1", Stream: "samples", SequenceNumber: low.SequenceNumber,
			Status: retry.StatusRetrying, NextRetryAt: &past,
		}))
		require.NoError(t, store.Create(ctx, &retry.Processing{
			EventID: high.ID, HandlerID: "handler-2", Stream: "samples", SequenceNumber: high.SequenceNumber,
			Status: retry.StatusRetrying, NextRetryAt: &past, Priority: 10,
		}))

		scheduler := retry.NewScheduler(store, streams, invoker, logger, retry.Config{})
		require.NoError(t, scheduler.Sweep(ctx))

		require.Len(t, invoker.invoked, 2)
		assert.Equal(t, high.ID+"/handler-2", invoker.invoked[0])
		assert.Equal(t, low.ID+"/handler-1", invoker.invoked[1])
	})

	t.Run("rows not yet due stay untouched", func(t *testing.T) {
		streams := memory.NewStore()
		store := retry.NewInMemoryStore()
		invoker := &recordingInvoker{}

		ev, err := streams.Append(ctx, stream.NewEvent("samples", "a", nil))
		require.NoError(t, err)

		future := time.Now().Add(time.Hour)
		require.NoError(t, store.Create(ctx, &retry.Processing{
			EventID: ev.ID, HandlerID: "handler-1", Stream: "samples", SequenceNumber: ev.SequenceNumber,
			Status: retry.StatusRetrying, NextRetryAt: &future,
		}))

		scheduler := retry.NewScheduler(store, streams, invoker, logger, retry.Config{})
		require.NoError(t, scheduler.Sweep(ctx))
		assert.Empty(t, invoker.invoked)
	})

	t.Run("expired events are skipped", func(t *testing.T) {
		streams := memory.NewStore()
		store := retry.NewInMemoryStore()
		invoker := &recordingInvoker{}

		ev, err := streams.Append(ctx, stream.NewEvent("samples", "a", nil))
		require.NoError(t, err)

		_, err = streams.Trim(ctx, "samples", time.Now().Add(time.Minute))
		require.NoError(t, err)

		past := time.Now().Add(-time.Second)
		require.NoError(t, store.Create(ctx, &retry.Processing{
			EventID: ev.ID, HandlerID: "handler-1", Stream: "samples", SequenceNumber: ev.SequenceNumber,
			Status: retry.StatusRetrying, NextRetryAt: &past,
		}))

		scheduler := retry.NewScheduler(store, streams, invoker, logger, retry.Config{})
		require.NoError(t, scheduler.Sweep(ctx))
		assert.Empty(t, invoker.invoked)
	})
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	streams := memory.NewStore()
	store := retry.NewInMemoryStore()
	invoker := &recordingInvoker{}

	scheduler := retry.NewScheduler(store, streams, invoker, testLog.NewNilLogger(),
		retry.Config{SweepInterval: time.Millisecond * 10})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
