package memory

import "sync"

type InstanceState int

const (
	InstanceStateRunning InstanceState = iota
	InstanceStateWaiting
	InstanceStateCompleted
	InstanceStateCancelled
	InstanceStateFailed
)

func (s InstanceState) String() string {
	switch s {
	case InstanceStateRunning:
		return "running"
	case InstanceStateWaiting:
		return "waiting"
	case InstanceStateCompleted:
		return "completed"
	case InstanceStateCancelled:
		return "cancelled"
	case InstanceStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Instance is a snapshot of a process instance
type Instance struct {
	InstanceID  string
	ProcessKey  string
	ExecutionID string

	// ActivityID is the activity the instance is at. Empty once the instance completed.
	ActivityID string

	State InstanceState

	// Reason is set for cancelled instances
	Reason string

	Err error
}

type instance struct {
	// mu serializes running the instance, only one goroutine advances it at a time
	mu sync.Mutex

	Instance

	process  *Process
	activity int
}
