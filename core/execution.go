package core

// Execution is one in-flight process instance at a specific activity. It is owned by the workflow engine,
// the correlation core only reads it.
type Execution struct {
	// ExecutionID is the opaque id assigned by the engine. It is the correlation id for resume events.
	ExecutionID string `json:"execution_id,omitempty"`

	ProcessInstanceID string `json:"process_instance_id,omitempty"`

	ProcessKey string `json:"process_key,omitempty"`

	// ActivityID marks the wait point the execution is currently parked at.
	ActivityID string `json:"activity_id,omitempty"`

	// Headers are contextual values the engine attaches to the execution. They are copied into the
	// request event.
	Headers map[string]any `json:"headers,omitempty"`
}

func NewExecution(executionID, processInstanceID, activityID string) *Execution {
	return &Execution{
		ExecutionID:       executionID,
		ProcessInstanceID: processInstanceID,
		ActivityID:        activityID,
		Headers:           map[string]any{},
	}
}
