package retry

import "time"

// Policy controls how a failing (event, handler) pair is redelivered.
// BackoffDelays is an ordered list, the last entry repeats once attempts run
// past it. DeadLetterAfter is the attempt count at which the pair is parked
// in dead_letter permanently.
type Policy struct {
	MaxRetries      int
	BackoffDelays   []time.Duration
	DeadLetterAfter int
}

// DefaultPolicy is used for handlers registered without an explicit policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BackoffDelays:   []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		DeadLetterAfter: 4,
	}
}

// Delay returns the backoff before the next attempt, given the number of
// retries already performed.
func (p Policy) Delay(retriesSoFar int) time.Duration {
	if len(p.BackoffDelays) == 0 {
		return time.Second
	}

	if retriesSoFar < 0 {
		retriesSoFar = 0
	}

	idx := retriesSoFar
	if idx > len(p.BackoffDelays)-1 {
		idx = len(p.BackoffDelays) - 1
	}

	return p.BackoffDelays[idx]
}

// Exhausted reports whether the given attempt count crossed the dead-letter threshold
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.threshold()
}

func (p Policy) threshold() int {
	if p.DeadLetterAfter > 0 {
		return p.DeadLetterAfter
	}

	// a policy without an explicit threshold dead-letters right after its retries
	return p.MaxRetries + 1
}
