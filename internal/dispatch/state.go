package dispatch

// State tracks an invocation through its lifecycle. Transitions only move
// forward: Pending, InFlight while a provider call runs, then Succeeded or
// Failed.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
