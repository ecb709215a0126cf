package events

import "dualstake/core/types"

// Emitter broadcasts committed state-change events to downstream subscribers
// (indexers, loggers, test sinks).
type Emitter interface {
	Emit(*types.Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Components use it
// as the default so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*types.Event) {}

// Sink is an in-memory emitter that records every event it receives. It is
// primarily used by tests asserting on emitted payloads.
type Sink struct {
	events []*types.Event
}

// Emit stores a copy of the event.
func (s *Sink) Emit(evt *types.Event) {
	if s == nil || evt == nil {
		return
	}
	s.events = append(s.events, evt.Copy())
}

// Events returns the recorded events in emission order.
func (s *Sink) Events() []*types.Event {
	if s == nil {
		return nil
	}
	out := make([]*types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Filter returns the recorded events matching the supplied type.
func (s *Sink) Filter(eventType string) []*types.Event {
	if s == nil {
		return nil
	}
	var out []*types.Event
	for _, evt := range s.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
