package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusDeadLetter Status = "dead_letter"
)

type Status string

func (s Status) String() string {
	return string(s)
}

// Terminal statuses never transition to a non-terminal one without an explicit operator replay
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

func StatusFromStr(str string) (Status, error) {
	switch str {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "retrying":
		return StatusRetrying, nil
	case "dead_letter":
		return StatusDeadLetter, nil
	default:
		return "", errors.Errorf("unknown processing status string %s", str)
	}
}

// Processing is the persisted record of one event x handler pairing.
// Exactly one such row exists per pair; retry state lives here instead of on a
// call stack so it survives restarts and stays inspectable.
type Processing struct {
	EventID        string
	HandlerID      string
	Stream         string
	SequenceNumber uint64
	Status         Status
	Priority       int
	AttemptCount   int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	NextRetryAt    *time.Time
	LastError      string
}

//go:generate mockgen --build_flags=--mod=mod -destination ../testing/mocks/retry/store.go -package retry . Store

// Store persists Processing rows
type Store interface {
	// Get returns the row for the pair or nil when none exists yet
	Get(ctx context.Context, eventID, handlerID string) (*Processing, error)
	Create(ctx context.Context, p *Processing) error
	Update(ctx context.Context, p *Processing) error
	// Due returns retrying rows whose NextRetryAt has passed, ordered by priority then NextRetryAt
	Due(ctx context.Context, now time.Time, limit int) ([]*Processing, error)
	// DeadLettered lists parked rows for operator triage
	DeadLettered(ctx context.Context, offset, limit int) ([]*Processing, error)
}

// Tracker applies the status transitions of a Processing row. It is the only
// component that decides between retry and dead-letter.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) Store() Store {
	return t.store
}

// Begin fetches or creates the row for the pair and marks the attempt started.
// Returns an error for pairs already in a terminal status.
func (t *Tracker) Begin(ctx context.Context, eventID, handlerID, streamName string, seq uint64) (*Processing, error) {
	p, err := t.store.Get(ctx, eventID, handlerID)

	if err != nil {
		return nil, errors.Wrapf(err, "loading processing row for event %s handler %s", eventID, handlerID)
	}

	if p == nil {
		p = &Processing{
			EventID:        eventID,
			HandlerID:      handlerID,
			Stream:         streamName,
			SequenceNumber: seq,
			Status:         StatusPending,
		}

		if err := t.store.Create(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "creating processing row for event %s handler %s", eventID, handlerID)
		}
	}

	if p.Status.Terminal() {
		return nil, WithAlreadyTerminalErr(errors.Errorf("event %s is already %s for handler %s", eventID, p.Status, handlerID))
	}

	now := time.Now().Round(time.Millisecond).UTC()
	p.Status = StatusProcessing
	p.AttemptCount++
	p.StartedAt = &now
	p.NextRetryAt = nil

	if err := t.store.Update(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "starting attempt %d for event %s handler %s", p.AttemptCount, eventID, handlerID)
	}

	return p, nil
}

// Complete marks the attempt succeeded
func (t *Tracker) Complete(ctx context.Context, p *Processing) error {
	now := time.Now().Round(time.Millisecond).UTC()
	p.Status = StatusCompleted
	p.CompletedAt = &now

	if err := t.store.Update(ctx, p); err != nil {
		return errors.Wrapf(err, "completing event %s for handler %s", p.EventID, p.HandlerID)
	}

	return nil
}

// Failure records a failed attempt. Depending on the policy and the error the
// row either gets a retry slot or is parked in dead_letter. The resulting
// status is returned.
func (t *Tracker) Failure(ctx context.Context, p *Processing, handlerErr error, policy Policy) (Status, error) {
	p.LastError = handlerErr.Error()

	if isNoRetry(handlerErr) || policy.Exhausted(p.AttemptCount) {
		p.Status = StatusDeadLetter
		p.NextRetryAt = nil
	} else {
		nextRetryAt := time.Now().Add(policy.Delay(p.AttemptCount - 1)).Round(time.Millisecond).UTC()
		p.Status = StatusRetrying
		p.NextRetryAt = &nextRetryAt
	}

	if err := t.store.Update(ctx, p); err != nil {
		return "", errors.Wrapf(err, "recording failure of event %s for handler %s", p.EventID, p.HandlerID)
	}

	return p.Status, nil
}

// Replay is the operator-triggered escape hatch from dead_letter: the attempt
// budget is reset and the pair becomes eligible for redelivery again.
func (t *Tracker) Replay(ctx context.Context, eventID, handlerID string) (*Processing, error) {
	p, err := t.store.Get(ctx, eventID, handlerID)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	if p == nil {
		return nil, errors.Errorf("no processing row for event %s handler %s", eventID, handlerID)
	}

	if p.Status != StatusDeadLetter {
		return nil, errors.Errorf("event %s handler %s is %s, only dead_letter rows can be replayed", eventID, handlerID, p.Status)
	}

	now := time.Now().Round(time.Millisecond).UTC()
	p.Status = StatusRetrying
	p.AttemptCount = 0
	p.LastError = ""
	p.NextRetryAt = &now

	if err := t.store.Update(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "replaying event %s for handler %s", eventID, handlerID)
	}

	return p, nil
}
