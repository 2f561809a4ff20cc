package memory

import (
	"context"

	"github.com/cschleiden/go-resume/core"
)

type activityKind int

const (
	activityTask activityKind = iota
	activityWait
)

// TaskFunc is the body of a task activity
type TaskFunc func(ctx context.Context, e *core.Execution) error

type Activity struct {
	ID string

	kind activityKind
	fn   TaskFunc
}

// Task returns an activity that runs fn inline and continues with the next activity
func Task(id string, fn TaskFunc) Activity {
	return Activity{ID: id, kind: activityTask, fn: fn}
}

// Wait returns an activity that suspends the execution until it is signaled
func Wait(id string) Activity {
	return Activity{ID: id, kind: activityWait}
}

// Process is an ordered list of activities, registered under a key
type Process struct {
	Key        string
	Activities []Activity
}

func NewProcess(key string, activities ...Activity) *Process {
	return &Process{
		Key:        key,
		Activities: activities,
	}
}
