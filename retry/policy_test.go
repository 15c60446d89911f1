package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay(t *testing.T) {
	policy := Policy{BackoffDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}}

	assert.Equal(t, time.Second, policy.Delay(0))
	assert.Equal(t, 5*time.Second, policy.Delay(1))
	assert.Equal(t, 30*time.Second, policy.Delay(2))

	t.Run("last delay repeats", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, policy.Delay(3))
		assert.Equal(t, 30*time.Second, policy.Delay(10))
	})

	t.Run("negative retries clamp to first delay", func(t *testing.T) {
		assert.Equal(t, time.Second, policy.Delay(-1))
	})

	t.Run("empty backoff list falls back to one second", func(t *testing.T) {
		assert.Equal(t, time.Second, Policy{}.Delay(0))
	})
}

func TestExhausted(t *testing.T) {
	t.Run("dead letter threshold", func(t *testing.T) {
		policy := Policy{MaxRetries: 3, DeadLetterAfter: 4}

		assert.False(t, policy.Exhausted(3))
		assert.True(t, policy.Exhausted(4))
		assert.True(t, policy.Exhausted(5))
	})

	t.Run("threshold derived from max retries", func(t *testing.T) {
		policy := Policy{MaxRetries: 2}

		assert.False(t, policy.Exhausted(2))
		assert.True(t, policy.Exhausted(3))
	})
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, policy.BackoffDelays)
	assert.Equal(t, 4, policy.DeadLetterAfter)
}
