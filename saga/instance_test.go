package saga

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() Definition {
	return Definition{
		Name: "process-sample",
		Steps: []StepDescriptor{
			{Name: "reserve-analyzer"},
			{Name: "schedule-assay"},
			{Name: "report-result"},
		},
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusRunning.Running())
	assert.True(t, StatusCompleted.Completed())
	assert.True(t, StatusCompensating.Compensating())
	assert.True(t, StatusCompensated.Compensated())
	assert.True(t, StatusFailed.Failed())

	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusCompensating.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCompensated.Terminal())
	assert.True(t, StatusFailed.Terminal())

	for _, str := range []string{"running", "completed", "compensating", "compensated", "failed"} {
		status, err := StatusFromStr(str)
		require.NoError(t, err)
		assert.Equal(t, str, status.String())
	}

	_, err := StatusFromStr("paused")
	assert.Error(t, err)
}

func TestNewInstance(t *testing.T) {
	initial := map[string]interface{}{"sample_id": "S-100"}

	instance := NewInstance(testDefinition(), initial, "order-1")

	assert.NotEmpty(t, instance.UID())
	assert.Empty(t, instance.ParentID())
	assert.Equal(t, "order-1", instance.CorrelationID())
	assert.Equal(t, StatusRunning, instance.Status())
	assert.Equal(t, 0, instance.CurrentStep())
	assert.Equal(t, int64(0), instance.Version())
	require.NotNil(t, instance.StartedAt())
	require.NotNil(t, instance.UpdatedAt())

	states := instance.StepStates()
	require.Len(t, states, 3)
	for i, state := range states {
		assert.Equal(t, i, state.Index)
		assert.Equal(t, StepPending, state.Status)
	}
	assert.Equal(t, "reserve-analyzer", states[0].Name)

	// the initial context is copied, not aliased
	initial["sample_id"] = "S-999"
	v, _ := instance.Context().Value("sample_id")
	assert.Equal(t, "S-100", v)

	t.Run("with parent", func(t *testing.T) {
		child := NewInstance(testDefinition(), nil, "order-1", WithParentID(instance.UID()))
		assert.Equal(t, instance.UID(), child.ParentID())
	})
}

func TestMarkStepExecuted(t *testing.T) {
	instance := NewInstance(testDefinition(), map[string]interface{}{"sample_id": "S-100"}, "")

	require.NoError(t, instance.MarkStepExecuted(0, map[string]interface{}{"analyzer_id": "AZ-7"}))

	assert.Equal(t, 1, instance.CurrentStep())
	assert.Equal(t, StepExecuted, instance.StepStates()[0].Status)
	assert.NotNil(t, instance.StepStates()[0].ExecutedAt)

	// output is merged into the accumulated context
	v, exists := instance.Context().Value("analyzer_id")
	require.True(t, exists)
	assert.Equal(t, "AZ-7", v)

	t.Run("wrong index", func(t *testing.T) {
		assert.Error(t, instance.MarkStepExecuted(0, nil))
		assert.Error(t, instance.MarkStepExecuted(2, nil))
	})

	t.Run("not running", func(t *testing.T) {
		compensating := NewInstance(testDefinition(), nil, "")
		require.NoError(t, compensating.BeginCompensation(0, errors.New("analyzer offline")))
		assert.Error(t, compensating.MarkStepExecuted(0, nil))
	})
}

func TestBeginCompensation(t *testing.T) {
	instance := NewInstance(testDefinition(), nil, "")
	require.NoError(t, instance.MarkStepExecuted(0, nil))

	require.NoError(t, instance.BeginCompensation(1, errors.New("analyzer offline")))

	assert.Equal(t, StatusCompensating, instance.Status())
	assert.Equal(t, "analyzer offline", instance.LastError())
	assert.Equal(t, StepFailed, instance.StepStates()[1].Status)
	assert.Equal(t, "analyzer offline", instance.StepStates()[1].Error)

	t.Run("only a running saga", func(t *testing.T) {
		assert.Error(t, instance.BeginCompensation(1, errors.New("again")))
	})

	t.Run("negative index means no step to blame", func(t *testing.T) {
		cancelled := NewInstance(testDefinition(), nil, "")
		require.NoError(t, cancelled.BeginCompensation(-1, errors.New("cancelled by operator")))
		assert.Equal(t, StatusCompensating, cancelled.Status())

		for _, state := range cancelled.StepStates() {
			assert.Equal(t, StepPending, state.Status)
		}
	})
}

func TestMarkStepCompensated(t *testing.T) {
	instance := NewInstance(testDefinition(), nil, "")
	require.NoError(t, instance.MarkStepExecuted(0, nil))
	require.NoError(t, instance.MarkStepExecuted(1, nil))
	require.NoError(t, instance.BeginCompensation(2, errors.New("report rejected")))

	t.Run("strictly descending order", func(t *testing.T) {
		assert.Error(t, instance.MarkStepCompensated(0))
	})

	require.NoError(t, instance.MarkStepCompensated(1))
	assert.Equal(t, 1, instance.CurrentStep())
	assert.Equal(t, StepCompensated, instance.StepStates()[1].Status)
	assert.NotNil(t, instance.StepStates()[1].CompensatedAt)

	require.NoError(t, instance.MarkStepCompensated(0))
	assert.Equal(t, 0, instance.CurrentStep())

	t.Run("only while compensating", func(t *testing.T) {
		running := NewInstance(testDefinition(), nil, "")
		require.NoError(t, running.MarkStepExecuted(0, nil))
		assert.Error(t, running.MarkStepCompensated(0))
	})

	t.Run("only executed steps", func(t *testing.T) {
		other := NewInstance(testDefinition(), nil, "")
		require.NoError(t, other.BeginCompensation(0, errors.New("boom")))
		// step 0 failed, it never executed
		other.currentStep = 1
		assert.Error(t, other.MarkStepCompensated(0))
	})
}

func TestComplete(t *testing.T) {
	instance := NewInstance(testDefinition(), nil, "")

	t.Run("not before every step executed", func(t *testing.T) {
		assert.Error(t, instance.Complete())
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, instance.MarkStepExecuted(i, nil))
	}

	require.NoError(t, instance.Complete())
	assert.Equal(t, StatusCompleted, instance.Status())
	assert.True(t, instance.Status().Terminal())

	t.Run("only while running", func(t *testing.T) {
		assert.Error(t, instance.Complete())
	})
}

func TestMarkCompensatedAndFail(t *testing.T) {
	t.Run("compensated", func(t *testing.T) {
		instance := NewInstance(testDefinition(), nil, "")
		require.NoError(t, instance.BeginCompensation(0, errors.New("boom")))
		require.NoError(t, instance.MarkCompensated())
		assert.Equal(t, StatusCompensated, instance.Status())

		assert.Error(t, instance.MarkCompensated())
	})

	t.Run("failed", func(t *testing.T) {
		instance := NewInstance(testDefinition(), nil, "")
		require.NoError(t, instance.BeginCompensation(0, errors.New("boom")))
		require.NoError(t, instance.Fail(errors.New("compensation rejected")))
		assert.Equal(t, StatusFailed, instance.Status())
		assert.Equal(t, "compensation rejected", instance.LastError())
	})

	t.Run("fail requires compensating", func(t *testing.T) {
		instance := NewInstance(testDefinition(), nil, "")
		assert.Error(t, instance.Fail(errors.New("boom")))
	})
}

func TestAttachEventAndClone(t *testing.T) {
	instance := NewInstance(testDefinition(), map[string]interface{}{"sample_id": "S-100"}, "order-1")
	instance.AttachEvent("reserve-analyzer", "step 0 executed")

	history := instance.HistoryEvents()
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].UID)
	assert.Equal(t, "reserve-analyzer", history[0].StepName)
	assert.Equal(t, "running", history[0].SagaStatus)

	copied := instance.clone()

	// mutating the copy must not leak into the original
	copied.values["sample_id"] = "S-999"
	copied.steps[0].Status = StepExecuted
	copied.history[0].Description = "tampered"

	v, _ := instance.Context().Value("sample_id")
	assert.Equal(t, "S-100", v)
	assert.Equal(t, StepPending, instance.StepStates()[0].Status)
	assert.Equal(t, "step 0 executed", instance.HistoryEvents()[0].Description)
}
