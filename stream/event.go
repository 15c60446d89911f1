package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Metadata is a free-form set of attributes carried next to the payload. Handler filters may match on it.
type Metadata map[string]interface{}

// Event is the wire unit of the bus. Immutable once appended to a stream,
// identified by ID and ordered within its stream by SequenceNumber.
type Event struct {
	ID             string                 `json:"event_id"`
	Stream         string                 `json:"stream"`
	Type           string                 `json:"event_type"`
	Version        string                 `json:"event_version"`
	SourceService  string                 `json:"source_service"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	CausationID    string                 `json:"causation_id,omitempty"`
	SequenceNumber uint64                 `json:"sequence_number"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Payload        map[string]interface{} `json:"payload"`
	Metadata       Metadata               `json:"metadata,omitempty"`
}

const defaultEventVersion = "v1"

// NewEvent constructs an event ready to be appended. SequenceNumber stays zero
// until the store assigns it.
func NewEvent(streamName, eventType string, payload map[string]interface{}, passedOptions ...EventOption) *Event {
	opts := &eventOpts{}

	for _, passedOpt := range passedOptions {
		if passedOpt != nil {
			passedOpt(opts)
		}
	}

	ev := &Event{
		ID:         uuid.New().String(),
		Stream:     streamName,
		Type:       eventType,
		Version:    defaultEventVersion,
		Payload:    payload,
		OccurredAt: time.Now().Round(time.Millisecond).UTC(),
	}

	if opts.version != "" {
		ev.Version = opts.version
	}

	ev.SourceService = opts.source
	ev.CorrelationID = opts.correlationID
	ev.CausationID = opts.causationID
	ev.Metadata = opts.metadata

	return ev
}

// DecodePayload maps the opaque payload onto a typed struct of a handler or a saga step.
func (e *Event) DecodePayload(out interface{}) error {
	if err := mapstructure.Decode(e.Payload, out); err != nil {
		return errors.Wrapf(err, "decoding payload of event %s", e.ID)
	}

	return nil
}

func (e *Event) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling event %s", e.ID)
	}

	return data, nil
}

func UnmarshalEvent(data []byte) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.Wrap(err, "unmarshaling event")
	}

	return ev, nil
}

type eventOpts struct {
	source        string
	version       string
	correlationID string
	causationID   string
	metadata      Metadata
}

type EventOption func(attr *eventOpts)

// WithSource sets the name of the producing service
func WithSource(source string) EventOption {
	return func(attr *eventOpts) {
		attr.source = source
	}
}

// WithVersion overrides the default event schema version
func WithVersion(version string) EventOption {
	return func(attr *eventOpts) {
		attr.version = version
	}
}

// WithCorrelationID ties this event to a business transaction
func WithCorrelationID(correlationID string) EventOption {
	return func(attr *eventOpts) {
		attr.correlationID = correlationID
	}
}

// WithCausationID records the event that caused this one
func WithCausationID(causationID string) EventOption {
	return func(attr *eventOpts) {
		attr.causationID = causationID
	}
}

func WithMetadata(metadata Metadata) EventOption {
	return func(attr *eventOpts) {
		attr.metadata = metadata
	}
}
