package stream

import (
	"context"
	"time"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../testing/mocks/stream/store.go -package stream . Store

// PendingEntry describes a delivered but not yet acknowledged event within a consumer group.
type PendingEntry struct {
	EventID       string
	Consumer      string
	DeliveredAt   time.Time
	DeliveryCount int
}

// Store is the append-only stream store protocol the bus is built on. Semantics
// follow Redis Streams consumer groups: Append is XADD and assigns the
// per-stream sequence number atomically, ReadGroup is XREADGROUP with '>',
// Ack is XACK, Claim is XAUTOCLAIM. labbus ships an in-memory implementation
// under stream/memory, production deployments plug in a durable one.
type Store interface {
	// Append persists the event, assigns its sequence number and returns it.
	// The returned event carries the final SequenceNumber.
	Append(ctx context.Context, ev *Event) (*Event, error)
	// ReadFrom returns up to limit events with sequence number >= fromSeq, in sequence order.
	ReadFrom(ctx context.Context, streamName string, fromSeq uint64, limit int) ([]*Event, error)
	// EnsureGroup creates the consumer group if it does not exist yet. Idempotent.
	EnsureGroup(ctx context.Context, streamName, group string) error
	// ReadGroup delivers up to batch events not yet claimed by any consumer of
	// the group and marks them claimed by consumerID. With block > 0 the call
	// waits up to that duration for new events before returning an empty batch.
	ReadGroup(ctx context.Context, streamName, group, consumerID string, batch int, block time.Duration) ([]*Event, error)
	// Ack removes the event from the group's pending set.
	Ack(ctx context.Context, streamName, group, eventID string) error
	// Pending lists claimed-but-unacked entries of the group.
	Pending(ctx context.Context, streamName, group string) ([]PendingEntry, error)
	// Claim transfers ownership of entries idle longer than minIdle to consumerID and returns them.
	Claim(ctx context.Context, streamName, group, consumerID string, minIdle time.Duration) ([]*Event, error)
	// Trim drops events that occurred before olderThan and returns how many were removed.
	Trim(ctx context.Context, streamName string, olderThan time.Time) (int, error)
}
