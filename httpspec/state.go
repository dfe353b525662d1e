package httpspec

// State is a request's position in its ready -> active -> done lifecycle
// (spec.md §3). Transitions are one-way: once done, a request never goes
// back to ready or active.
type State int

const (
	StateReady State = iota
	StateActive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
