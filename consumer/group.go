package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// Manager assigns competing consumers to streams. A group subscribes to
// exactly one stream; every event of the stream is delivered to at least one
// member of each subscribed group and to at most one concurrently.
type Manager struct {
	registry *stream.Registry
	store    stream.Store
	logger   log.Logger

	mutex  sync.RWMutex
	groups map[string]string // group name -> stream name
}

func NewManager(registry *stream.Registry, store stream.Store, logger log.Logger) *Manager {
	return &Manager{registry: registry, store: store, logger: logger, groups: make(map[string]string)}
}

// Subscribe registers groupName as a competing consumer group of streamName.
// Idempotent for the same pairing, an error when the group already follows
// another stream.
func (m *Manager) Subscribe(ctx context.Context, streamName, groupName string) error {
	if _, err := m.registry.Get(streamName); err != nil {
		return errors.Wrapf(err, "subscribing group %s", groupName)
	}

	m.mutex.Lock()

	if current, exists := m.groups[groupName]; exists && current != streamName {
		m.mutex.Unlock()
		return errors.Errorf("group %s already subscribed to stream %s", groupName, current)
	}

	m.groups[groupName] = streamName
	m.mutex.Unlock()

	if err := m.store.EnsureGroup(ctx, streamName, groupName); err != nil {
		return errors.Wrapf(err, "ensuring group %s on stream %s", groupName, streamName)
	}

	m.logger.Logf(log.DebugLevel, "group %s subscribed to stream %s", groupName, streamName)

	return nil
}

// StreamOf returns the stream a group is subscribed to
func (m *Manager) StreamOf(groupName string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	streamName, exists := m.groups[groupName]
	if !exists {
		return "", errors.Errorf("group %s is not subscribed to any stream", groupName)
	}

	return streamName, nil
}

// Poll returns up to batch events not yet claimed by another live consumer of
// the group, marking them claimed by consumerID. With block > 0 the call waits
// for new events up to that duration.
func (m *Manager) Poll(ctx context.Context, groupName, consumerID string, batch int, block time.Duration) ([]*stream.Event, error) {
	streamName, err := m.StreamOf(groupName)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	events, err := m.store.ReadGroup(ctx, streamName, groupName, consumerID, batch, block)

	if err != nil {
		return nil, errors.Wrapf(err, "polling group %s as consumer %s", groupName, consumerID)
	}

	return events, nil
}

// Ack removes the event from the group's pending set
func (m *Manager) Ack(ctx context.Context, groupName, eventID string) error {
	streamName, err := m.StreamOf(groupName)

	if err != nil {
		return errors.WithStack(err)
	}

	if err := m.store.Ack(ctx, streamName, groupName, eventID); err != nil {
		return errors.Wrapf(err, "acking event %s in group %s", eventID, groupName)
	}

	return nil
}

// Reclaim transfers entries whose claim is older than idleThreshold to
// consumerID and returns them for redelivery. This is what tolerates crashed
// consumers without losing events.
func (m *Manager) Reclaim(ctx context.Context, groupName, consumerID string, idleThreshold time.Duration) ([]*stream.Event, error) {
	streamName, err := m.StreamOf(groupName)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	claimed, err := m.store.Claim(ctx, streamName, groupName, consumerID, idleThreshold)

	if err != nil {
		return nil, errors.Wrapf(err, "reclaiming idle entries of group %s", groupName)
	}

	if len(claimed) > 0 {
		m.logger.Logf(log.InfoLevel, "consumer %s reclaimed %d idle entries of group %s", consumerID, len(claimed), groupName)
	}

	return claimed, nil
}

// Pending lists claimed-but-unacked entries of the group
func (m *Manager) Pending(ctx context.Context, groupName string) ([]stream.PendingEntry, error) {
	streamName, err := m.StreamOf(groupName)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	return m.store.Pending(ctx, streamName, groupName)
}
