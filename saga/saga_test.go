package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopStep struct {
	name string
}

func (s noopStep) Name() string {
	return s.name
}

func (s noopStep) Execute(ctx context.Context, sagaCtx *Context) (map[string]interface{}, error) {
	return nil, nil
}

func (s noopStep) Compensate(ctx context.Context, sagaCtx *Context) error {
	return nil
}

func TestStepRegistry(t *testing.T) {
	r := NewStepRegistry()

	require.NoError(t, r.Register(noopStep{name: "reserve-analyzer"}, noopStep{name: "schedule-assay"}))

	step, err := r.Get("reserve-analyzer")
	require.NoError(t, err)
	assert.Equal(t, "reserve-analyzer", step.Name())

	t.Run("duplicate name", func(t *testing.T) {
		assert.Error(t, r.Register(noopStep{name: "reserve-analyzer"}))
	})

	t.Run("empty name", func(t *testing.T) {
		assert.Error(t, r.Register(noopStep{}))
	})

	t.Run("unknown step", func(t *testing.T) {
		_, err := r.Get("ghost")
		assert.Error(t, err)
	})
}

func TestDefinitionRegistry(t *testing.T) {
	r := NewDefinitionRegistry()

	def := Definition{
		Name: "process-sample",
		Steps: []StepDescriptor{
			{Name: "reserve-analyzer"},
			{Name: "schedule-assay", Timeout: time.Second * 5},
		},
	}

	require.NoError(t, r.Register(def))

	got, err := r.Get("process-sample")
	require.NoError(t, err)
	assert.Equal(t, def, got)

	t.Run("duplicate name", func(t *testing.T) {
		assert.Error(t, r.Register(def))
	})

	t.Run("empty name", func(t *testing.T) {
		assert.Error(t, r.Register(Definition{Steps: def.Steps}))
	})

	t.Run("no steps", func(t *testing.T) {
		assert.Error(t, r.Register(Definition{Name: "empty-saga"}))
	})

	t.Run("unnamed step", func(t *testing.T) {
		err := r.Register(Definition{Name: "broken-saga", Steps: []StepDescriptor{{Name: ""}}})
		assert.Error(t, err)
	})

	t.Run("unknown definition", func(t *testing.T) {
		_, err := r.Get("ghost")
		assert.Error(t, err)
	})
}

func TestContext(t *testing.T) {
	sagaCtx := &Context{
		SagaID:        "xxx",
		CorrelationID: "order-1",
		Values: map[string]interface{}{
			"sample_id":   "S-100",
			"analyzer_id": "AZ-7",
			"priority":    3,
		},
	}

	v, exists := sagaCtx.Value("sample_id")
	require.True(t, exists)
	assert.Equal(t, "S-100", v)

	_, exists = sagaCtx.Value("ghost")
	assert.False(t, exists)

	t.Run("decode onto a struct", func(t *testing.T) {
		out := struct {
			SampleID   string `mapstructure:"sample_id"`
			AnalyzerID string `mapstructure:"analyzer_id"`
			Priority   int    `mapstructure:"priority"`
		}{}

		require.NoError(t, sagaCtx.Decode(&out))
		assert.Equal(t, "S-100", out.SampleID)
		assert.Equal(t, "AZ-7", out.AnalyzerID)
		assert.Equal(t, 3, out.Priority)
	})

	t.Run("decode type mismatch", func(t *testing.T) {
		out := struct {
			Priority []string `mapstructure:"priority"`
		}{}

		assert.Error(t, sagaCtx.Decode(&out))
	})
}
