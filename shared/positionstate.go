package shared

// PositionState represents the monitoring state of an instrument's hypothetical position.
//
// States only move forward: Idle -> WatchingEntry -> (LongOpen | ShortOpen) -> Closed.
type PositionState uint32

const (
	Idle PositionState = iota
	WatchingEntry
	LongOpen
	ShortOpen
	Closed
)

// String stringifies the provided position state.
func (s PositionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case WatchingEntry:
		return "watching entry"
	case LongOpen:
		return "long open"
	case ShortOpen:
		return "short open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransitionTo checks whether moving from the current state to the provided state is
// permitted.
func (s PositionState) CanTransitionTo(next PositionState) bool {
	switch s {
	case Idle:
		return next == WatchingEntry
	case WatchingEntry:
		return next == LongOpen || next == ShortOpen
	case LongOpen, ShortOpen:
		return next == Closed
	default:
		return false
	}
}

// Open checks whether the state represents an open position.
func (s PositionState) Open() bool {
	return s == LongOpen || s == ShortOpen
}
