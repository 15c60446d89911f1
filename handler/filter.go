package handler

import "github.com/openlims/labbus/stream"

// Filter is a predicate over event type and metadata. A nil filter matches
// everything; within one filter all specified conditions must hold.
type Filter struct {
	// EventTypes matches when the event's type equals any of the listed ones
	EventTypes []string
	// Metadata matches when every listed key is present in the event's metadata with an equal value
	Metadata map[string]interface{}
}

func (f *Filter) Matches(ev *stream.Event) bool {
	if f == nil {
		return true
	}

	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if t == ev.Type {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	for key, want := range f.Metadata {
		got, exists := ev.Metadata[key]
		if !exists || got != want {
			return false
		}
	}

	return true
}
