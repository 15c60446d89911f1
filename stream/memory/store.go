package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// NewStore returns an in-memory stream.Store. It keeps full Redis-Streams-like
// consumer group semantics (sequence assignment, pending entry lists, claiming)
// and is used as the reference implementation and in tests. Consumer groups
// start reading from the beginning of the stream.
func NewStore() stream.Store {
	return &store{streams: make(map[string]*streamState)}
}

type store struct {
	mutex   sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	seq     uint64
	events  []*stream.Event
	groups  map[string]*group
	changed chan struct{}
}

type group struct {
	// cursor is the last sequence number delivered to any consumer of the group
	cursor  uint64
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	seq           uint64
	consumer      string
	deliveredAt   time.Time
	deliveryCount int
}

func (s *store) state(streamName string) *streamState {
	st, exists := s.streams[streamName]
	if !exists {
		st = &streamState{groups: make(map[string]*group), changed: make(chan struct{})}
		s.streams[streamName] = st
	}

	return st
}

func (s *store) Append(ctx context.Context, ev *stream.Event) (*stream.Event, error) {
	if ev.Stream == "" {
		return nil, errors.New("event has no stream assigned")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := s.state(ev.Stream)
	st.seq++

	appended := *ev
	appended.SequenceNumber = st.seq
	st.events = append(st.events, &appended)

	// wake everyone blocked in ReadGroup
	close(st.changed)
	st.changed = make(chan struct{})

	return &appended, nil
}

func (s *store) ReadFrom(ctx context.Context, streamName string, fromSeq uint64, limit int) ([]*stream.Event, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, exists := s.streams[streamName]
	if !exists {
		return nil, nil
	}

	var batch []*stream.Event
	for _, ev := range st.events {
		if ev.SequenceNumber < fromSeq {
			continue
		}
		batch = append(batch, ev)
		if limit > 0 && len(batch) >= limit {
			break
		}
	}

	return batch, nil
}

func (s *store) EnsureGroup(ctx context.Context, streamName, groupName string) error {
	if groupName == "" {
		return errors.New("group name is empty")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := s.state(streamName)

	if _, exists := st.groups[groupName]; !exists {
		st.groups[groupName] = &group{pending: make(map[string]*pendingEntry)}
	}

	return nil
}

func (s *store) ReadGroup(ctx context.Context, streamName, groupName, consumerID string, batch int, block time.Duration) ([]*stream.Event, error) {
	if batch <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batch)
	}

	deadline := time.Now().Add(block)

	for {
		events, changed, err := s.readGroupOnce(streamName, groupName, consumerID, batch)

		if err != nil {
			return nil, err
		}

		if len(events) > 0 || block <= 0 {
			return events, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-changed:
			timer.Stop()
		}
	}
}

func (s *store) readGroupOnce(streamName, groupName, consumerID string, batch int) ([]*stream.Event, chan struct{}, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := s.state(streamName)

	g, exists := st.groups[groupName]
	if !exists {
		return nil, nil, errors.Errorf("consumer group %s does not exist for stream %s", groupName, streamName)
	}

	var delivered []*stream.Event

	now := time.Now()

	for _, ev := range st.events {
		if ev.SequenceNumber <= g.cursor {
			continue
		}

		g.pending[ev.ID] = &pendingEntry{seq: ev.SequenceNumber, consumer: consumerID, deliveredAt: now, deliveryCount: 1}
		g.cursor = ev.SequenceNumber
		delivered = append(delivered, ev)

		if len(delivered) >= batch {
			break
		}
	}

	return delivered, st.changed, nil
}

func (s *store) Ack(ctx context.Context, streamName, groupName, eventID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, exists := s.streams[streamName]
	if !exists {
		return errors.Errorf("stream %s has no entries", streamName)
	}

	g, exists := st.groups[groupName]
	if !exists {
		return errors.Errorf("consumer group %s does not exist for stream %s", groupName, streamName)
	}

	delete(g.pending, eventID)

	return nil
}

func (s *store) Pending(ctx context.Context, streamName, groupName string) ([]stream.PendingEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, exists := s.streams[streamName]
	if !exists {
		return nil, nil
	}

	g, exists := st.groups[groupName]
	if !exists {
		return nil, errors.Errorf("consumer group %s does not exist for stream %s", groupName, streamName)
	}

	entries := make([]stream.PendingEntry, 0, len(g.pending))
	for eventID, pe := range g.pending {
		entries = append(entries, stream.PendingEntry{
			EventID:       eventID,
			Consumer:      pe.consumer,
			DeliveredAt:   pe.deliveredAt,
			DeliveryCount: pe.deliveryCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return g.pending[entries[i].EventID].seq < g.pending[entries[j].EventID].seq
	})

	return entries, nil
}

func (s *store) Claim(ctx context.Context, streamName, groupName, consumerID string, minIdle time.Duration) ([]*stream.Event, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, exists := s.streams[streamName]
	if !exists {
		return nil, nil
	}

	g, exists := st.groups[groupName]
	if !exists {
		return nil, errors.Errorf("consumer group %s does not exist for stream %s", groupName, streamName)
	}

	now := time.Now()

	var claimed []*stream.Event

	for eventID, pe := range g.pending {
		if now.Sub(pe.deliveredAt) < minIdle {
			continue
		}

		ev := s.findEvent(st, eventID)
		if ev == nil {
			// trimmed away in the meantime, nothing left to deliver
			delete(g.pending, eventID)
			continue
		}

		pe.consumer = consumerID
		pe.deliveredAt = now
		pe.deliveryCount++
		claimed = append(claimed, ev)
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].SequenceNumber < claimed[j].SequenceNumber
	})

	return claimed, nil
}

func (s *store) Trim(ctx context.Context, streamName string, olderThan time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, exists := s.streams[streamName]
	if !exists {
		return 0, nil
	}

	kept := st.events[:0]
	trimmed := 0

	for _, ev := range st.events {
		if ev.OccurredAt.Before(olderThan) {
			trimmed++
			continue
		}
		kept = append(kept, ev)
	}

	st.events = kept

	return trimmed, nil
}

func (s *store) findEvent(st *streamState, eventID string) *stream.Event {
	for _, ev := range st.events {
		if ev.ID == eventID {
			return ev
		}
	}

	return nil
}
