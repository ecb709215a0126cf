package types

// Event represents a structured state change recorded by a protocol module.
// Attributes hold stringified payload fields so downstream consumers never
// need module-specific decoding.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Copy returns a deep copy so emitters can hand events to subscribers without
// sharing the attribute map.
func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
