package core

type ExecutionState int

const (
	ExecutionStateUnregistered ExecutionState = iota
	ExecutionStateAwaiting
	ExecutionStateResumed
	ExecutionStateDropped
	ExecutionStateCancelled
)

func (s ExecutionState) String() string {
	switch s {
	case ExecutionStateUnregistered:
		return "unregistered"
	case ExecutionStateAwaiting:
		return "awaiting"
	case ExecutionStateResumed:
		return "resumed"
	case ExecutionStateDropped:
		return "dropped"
	case ExecutionStateCancelled:
		return "cancelled"
	}

	return "unknown"
}

// Terminal returns true if no further transition is possible for the correlation of an execution.
func (s ExecutionState) Terminal() bool {
	return s == ExecutionStateResumed || s == ExecutionStateDropped || s == ExecutionStateCancelled
}
