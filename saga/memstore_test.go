package saga

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	instance := NewInstance(testDefinition(), map[string]interface{}{"sample_id": "S-100"}, "order-1")

	require.NoError(t, store.Create(ctx, instance))

	t.Run("duplicate create", func(t *testing.T) {
		assert.Error(t, store.Create(ctx, instance))
	})

	loaded, err := store.GetByID(ctx, instance.UID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, instance.UID(), loaded.UID())
	assert.Equal(t, StatusRunning, loaded.Status())

	t.Run("missing instance is nil, nil", func(t *testing.T) {
		loaded, err := store.GetByID(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("stored state is isolated from the caller", func(t *testing.T) {
		require.NoError(t, loaded.MarkStepExecuted(0, nil))

		again, err := store.GetByID(ctx, instance.UID())
		require.NoError(t, err)
		assert.Equal(t, 0, again.CurrentStep())
	})

	require.NoError(t, store.Delete(ctx, instance.UID()))

	loaded, err = store.GetByID(ctx, instance.UID())
	require.NoError(t, err)
	assert.Nil(t, loaded)

	t.Run("deleting a missing instance", func(t *testing.T) {
		assert.Error(t, store.Delete(ctx, instance.UID()))
	})
}

func TestInMemoryStoreOptimisticLock(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	instance := NewInstance(testDefinition(), nil, "")
	require.NoError(t, store.Create(ctx, instance))

	first, err := store.GetByID(ctx, instance.UID())
	require.NoError(t, err)
	second, err := store.GetByID(ctx, instance.UID())
	require.NoError(t, err)

	require.NoError(t, first.MarkStepExecuted(0, nil))
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(1), first.Version())

	// the second loaded copy still carries version 0, its update must lose
	require.NoError(t, second.MarkStepExecuted(0, nil))
	err = store.Update(ctx, second)
	require.Error(t, err)
	assert.True(t, IsOptimisticLockErr(err))

	t.Run("wrapping keeps the error recognizable", func(t *testing.T) {
		assert.True(t, IsOptimisticLockErr(errors.Wrap(err, "advancing saga")))
	})

	t.Run("updating a missing instance", func(t *testing.T) {
		ghost := NewInstance(testDefinition(), nil, "")
		assert.Error(t, store.Update(ctx, ghost))
	})
}

func TestInMemoryStoreGetByFilter(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	completed := NewInstance(testDefinition(), nil, "order-1")
	for i := 0; i < 3; i++ {
		require.NoError(t, completed.MarkStepExecuted(i, nil))
	}
	require.NoError(t, completed.Complete())

	running := NewInstance(testDefinition(), nil, "order-2")

	otherDef := NewInstance(Definition{Name: "archive-sample", Steps: []StepDescriptor{{Name: "archive"}}}, nil, "order-1")

	for _, instance := range []*Instance{completed, running, otherDef} {
		require.NoError(t, store.Create(ctx, instance))
	}

	t.Run("by status", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithStatus("running"))
		require.NoError(t, err)
		assert.Equal(t, 2, batch.Total)
		require.Len(t, batch.Items, 2)
	})

	t.Run("by definition name", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithDefinitionName("archive-sample"))
		require.NoError(t, err)
		require.Len(t, batch.Items, 1)
		assert.Equal(t, otherDef.UID(), batch.Items[0].UID())
	})

	t.Run("by correlation id", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithCorrelationID("order-1"))
		require.NoError(t, err)
		assert.Equal(t, 2, batch.Total)
	})

	t.Run("by uid", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithSagaUID(running.UID()))
		require.NoError(t, err)
		require.Len(t, batch.Items, 1)
		assert.Equal(t, running.UID(), batch.Items[0].UID())
	})

	t.Run("combined filters", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithCorrelationID("order-1"), WithStatus("completed"))
		require.NoError(t, err)
		require.Len(t, batch.Items, 1)
		assert.Equal(t, completed.UID(), batch.Items[0].UID())
	})

	t.Run("pagination keeps the full total", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithOffsetAndLimit(0, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, batch.Total)
		assert.Len(t, batch.Items, 2)

		rest, err := store.GetByFilter(ctx, WithOffsetAndLimit(2, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, rest.Total)
		assert.Len(t, rest.Items, 1)
	})

	t.Run("offset past the end", func(t *testing.T) {
		batch, err := store.GetByFilter(ctx, WithOffsetAndLimit(10, 5))
		require.NoError(t, err)
		assert.Empty(t, batch.Items)
	})

	t.Run("no filters", func(t *testing.T) {
		_, err := store.GetByFilter(ctx)
		assert.Error(t, err)
	})
}
