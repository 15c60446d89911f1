package saga

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sagaColumns = []string{"uid", "parent_uid", "correlation_id", "payload", "status", "current_step", "version", "last_error", "started_at", "updated_at"}

var historyColumns = []string{"uid", "step_name", "status", "description", "created_at"}

func newMockedSagaStore(t *testing.T, driver SQLDriver) (Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store, err := NewSQLStore(db, driver)
	require.NoError(t, err)

	return store, mock
}

func TestSagaSQLStoreCreate(t *testing.T) {
	store, mock := newMockedSagaStore(t, MYSQLDriver)

	instance := NewInstance(testDefinition(), map[string]interface{}{"sample_id": "S-100"}, "order-1")

	mock.ExpectExec("INSERT INTO saga ").
		WithArgs(instance.UID(), "", "process-sample", "order-1", sqlmock.AnyArg(), "running", 0, int64(0), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Create(context.Background(), instance))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaSQLStoreGetByID(t *testing.T) {
	ctx := context.Background()

	instance := NewInstance(testDefinition(), map[string]interface{}{"sample_id": "S-100"}, "order-1")
	require.NoError(t, instance.MarkStepExecuted(0, map[string]interface{}{"analyzer_id": "AZ-7"}))

	payload, err := marshalInstancePayload(instance)
	require.NoError(t, err)

	t.Run("existing instance with history", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, MYSQLDriver)

		now := time.Now().Round(time.Millisecond).UTC()

		mock.ExpectQuery("SELECT uid, parent_uid, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at FROM saga WHERE uid=\\?").
			WithArgs(instance.UID()).
			WillReturnRows(sqlmock.NewRows(sagaColumns).
				AddRow(instance.UID(), "", "order-1", string(payload), "running", 1, int64(3), "", now, now))

		mock.ExpectQuery("SELECT uid, step_name, status, description, created_at FROM saga_history WHERE saga_uid=\\? ORDER BY created_at").
			WithArgs(instance.UID()).
			WillReturnRows(sqlmock.NewRows(historyColumns).
				AddRow("hev-1", "reserve-analyzer", "running", "step 0 executed", now))

		loaded, err := store.GetByID(ctx, instance.UID())
		require.NoError(t, err)
		require.NotNil(t, loaded)

		assert.Equal(t, instance.UID(), loaded.UID())
		assert.Equal(t, StatusRunning, loaded.Status())
		assert.Equal(t, 1, loaded.CurrentStep())
		assert.Equal(t, int64(3), loaded.Version())
		assert.Equal(t, "process-sample", loaded.Definition().Name)

		v, exists := loaded.Context().Value("analyzer_id")
		require.True(t, exists)
		assert.Equal(t, "AZ-7", v)

		require.Len(t, loaded.HistoryEvents(), 1)
		assert.Equal(t, "reserve-analyzer", loaded.HistoryEvents()[0].StepName)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing instance returns nil", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, MYSQLDriver)

		mock.ExpectQuery("SELECT uid, parent_uid, correlation_id, payload").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(sagaColumns))

		loaded, err := store.GetByID(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pg placeholders", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, PGDriver)

		mock.ExpectQuery("SELECT uid, parent_uid, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at FROM saga WHERE uid=\\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(sagaColumns))

		_, err := store.GetByID(ctx, "ghost")
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSagaSQLStoreUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the new state and missing history", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, MYSQLDriver)

		instance := NewInstance(testDefinition(), nil, "")
		instance.version = 2
		require.NoError(t, instance.MarkStepExecuted(0, nil))
		instance.AttachEvent("reserve-analyzer", "step 0 executed")

		ev := instance.HistoryEvents()[0]

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE saga SET payload=\\?, status=\\?, current_step=\\?, version=version\\+1, last_error=\\?, updated_at=\\? WHERE uid=\\? AND version=\\?").
			WithArgs(sqlmock.AnyArg(), "running", 1, "", sqlmock.AnyArg(), instance.UID(), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT uid FROM saga_history WHERE saga_uid=\\?").
			WithArgs(instance.UID()).
			WillReturnRows(sqlmock.NewRows([]string{"uid"}))
		mock.ExpectExec("INSERT INTO saga_history ").
			WithArgs(ev.UID, instance.UID(), "reserve-analyzer", "running", "step 0 executed", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Update(ctx, instance))

		// the loaded copy now matches the bumped stored version
		assert.Equal(t, int64(3), instance.Version())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already persisted history is not re-inserted", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, MYSQLDriver)

		instance := NewInstance(testDefinition(), nil, "")
		instance.AttachEvent("", "saga started")

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE saga SET payload=").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT uid FROM saga_history WHERE saga_uid=\\?").
			WithArgs(instance.UID()).
			WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow(instance.HistoryEvents()[0].UID))
		mock.ExpectCommit()

		require.NoError(t, store.Update(ctx, instance))

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict", func(t *testing.T) {
		store, mock := newMockedSagaStore(t, MYSQLDriver)

		instance := NewInstance(testDefinition(), nil, "")

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE saga SET payload=").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.Update(ctx, instance)
		require.Error(t, err)
		assert.True(t, IsOptimisticLockErr(err))

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSagaSQLStoreGetByFilter(t *testing.T) {
	store, mock := newMockedSagaStore(t, MYSQLDriver)

	instance := NewInstance(testDefinition(), nil, "order-1")
	payload, err := marshalInstancePayload(instance)
	require.NoError(t, err)

	now := time.Now().Round(time.Millisecond).UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM saga WHERE 1=1 AND status = \\?").
		WithArgs("running").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	mock.ExpectQuery("SELECT uid, parent_uid, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at FROM saga WHERE 1=1 AND status = \\? ORDER BY started_at LIMIT 2 OFFSET 0").
		WithArgs("running").
		WillReturnRows(sqlmock.NewRows(sagaColumns).
			AddRow("saga-1", "", "order-1", string(payload), "running", 0, int64(0), "", now, now).
			AddRow("saga-2", "", "order-2", string(payload), "running", 0, int64(1), "", now, now))

	for _, uid := range []string{"saga-1", "saga-2"} {
		mock.ExpectQuery("SELECT uid, step_name, status, description, created_at FROM saga_history WHERE saga_uid=\\?").
			WithArgs(uid).
			WillReturnRows(sqlmock.NewRows(historyColumns))
	}

	batch, err := store.GetByFilter(context.Background(), WithStatus("running"), WithOffsetAndLimit(0, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Total)
	require.Len(t, batch.Items, 2)
	assert.Equal(t, "saga-1", batch.Items[0].UID())
	assert.Equal(t, "order-2", batch.Items[1].CorrelationID())

	t.Run("no filters and no pagination", func(t *testing.T) {
		_, err := store.GetByFilter(context.Background())
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaSQLStoreDelete(t *testing.T) {
	store, mock := newMockedSagaStore(t, MYSQLDriver)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM saga_history WHERE saga_uid=\\?").
		WithArgs("saga-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM saga WHERE uid=\\?").
		WithArgs("saga-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Delete(context.Background(), "saga-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
