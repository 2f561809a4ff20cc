package core

import (
	"maps"
	"time"
)

const HeaderExecutionID = "executionId"

// RequestEvent is emitted once per suspension. It carries enough metadata for an external system to decide
// how and when to produce the matching resume.
type RequestEvent struct {
	ExecutionID string         `json:"executionId"`
	Headers     map[string]any `json:"headers,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func NewRequestEvent(e *Execution, timestamp time.Time) *RequestEvent {
	headers := make(map[string]any, len(e.Headers)+1)
	maps.Copy(headers, e.Headers)
	headers[HeaderExecutionID] = e.ExecutionID

	return &RequestEvent{
		ExecutionID: e.ExecutionID,
		Headers:     headers,
		Timestamp:   timestamp,
	}
}

// ResumeEvent is a single resumption trigger for the execution with the given id.
type ResumeEvent struct {
	ExecutionID string `json:"executionId"`
}

func NewResumeEvent(executionID string) *ResumeEvent {
	return &ResumeEvent{ExecutionID: executionID}
}
