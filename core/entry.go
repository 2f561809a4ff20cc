package core

import "time"

// Entry is the correlation entry for a suspended execution. It is created when the execution reaches a wait
// point and removed exactly once, either when the execution is resumed or when the wait is cancelled.
type Entry struct {
	ExecutionID       string `json:"execution_id,omitempty"`
	ProcessInstanceID string `json:"process_instance_id,omitempty"`
	ActivityID        string `json:"activity_id,omitempty"`

	RegisteredAt time.Time `json:"registered_at,omitempty"`

	// ExpiresAt is the time after which the wait is abandoned. Nil waits forever.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Metadata holds propagated context, e.g. the trace context of the suspending activity.
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewEntry(e *Execution, registeredAt time.Time) *Entry {
	return &Entry{
		ExecutionID:       e.ExecutionID,
		ProcessInstanceID: e.ProcessInstanceID,
		ActivityID:        e.ActivityID,
		RegisteredAt:      registeredAt,
		Metadata:          map[string]string{},
	}
}

func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
