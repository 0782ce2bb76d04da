package models

// Event is the slice of an event record the gate queue needs: which
// gates it admits through.
type Event struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Gates  []string `json:"gates"`
}

// HasGate reports whether gateID is one of the event's configured gates.
func (e *Event) HasGate(gateID string) bool {
	for _, gate := range e.Gates {
		if gate == gateID {
			return true
		}
	}
	return false
}
