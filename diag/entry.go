package diag

import (
	"time"

	"github.com/cschleiden/go-resume/core"
)

type EntryRef struct {
	ExecutionID       string     `json:"execution_id"`
	ProcessInstanceID string     `json:"process_instance_id,omitempty"`
	ActivityID        string     `json:"activity_id,omitempty"`
	RegisteredAt      time.Time  `json:"registered_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`

	// State is always "awaiting", entries only exist for waiting executions
	State string `json:"state"`

	// WaitingMs is how long the execution has been waiting at the time of the request
	WaitingMs int64 `json:"waiting_ms"`
}

func newEntryRef(e *core.Entry, now time.Time) *EntryRef {
	return &EntryRef{
		ExecutionID:       e.ExecutionID,
		ProcessInstanceID: e.ProcessInstanceID,
		ActivityID:        e.ActivityID,
		RegisteredAt:      e.RegisteredAt,
		ExpiresAt:         e.ExpiresAt,
		State:             core.ExecutionStateAwaiting.String(),
		WaitingMs:         now.Sub(e.RegisteredAt).Milliseconds(),
	}
}

type Stats struct {
	AwaitingExecutions int64 `json:"awaiting_executions"`
	ExpiringExecutions int64 `json:"expiring_executions"`
}
