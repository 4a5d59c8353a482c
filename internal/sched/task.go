package sched

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source records why a task exists.
type Source string

const (
	// SourceExternal marks tasks submitted by the external controller.
	SourceExternal Source = "external"
	// SourceAutonomous marks tasks proposed by the idle loop.
	SourceAutonomous Source = "autonomous"
)

// Well-known priority tiers. Lower value = higher priority; callers
// may use intermediate values.
const (
	PriorityExternal   = 0
	PriorityAutonomous = 10
)

// Task is one schedulable unit of work. A Task is never mutated after
// creation: requeueing a preempted task reinserts the same value and
// only the queue-side sequence number is re-derived.
type Task struct {
	Goal     string
	Source   Source
	Priority int
	ID       string // correlation/logging only, never used for ordering
}

// NewTask creates a task with a fresh ID.
func NewTask(goal string, priority int, source Source) *Task {
	return &Task{
		Goal:     goal,
		Source:   source,
		Priority: priority,
		ID:       newTaskID(),
	}
}

// newTaskID builds an opaque unique ID: millisecond timestamp plus a
// short random suffix.
func newTaskID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:6])
}
