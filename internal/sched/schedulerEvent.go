// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusEnqueue StatusKind = iota
	StatusDispatch
	StatusFinish
	StatusFail
	StatusPreempt
	StatusRequeue
	StatusInterrupt
	StatusPropose
)

// StatusEvent is emitted on every key scheduler action. Emission is
// best-effort: a slow or absent consumer never blocks the dispatcher.
type StatusEvent struct {
	Time     time.Time
	Kind     StatusKind
	TaskID   string
	Goal     string
	Priority int
	Source   Source
	Detail   string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusFinish:
		return "Finish"
	case StatusFail:
		return "Fail"
	case StatusPreempt:
		return "Preempt"
	case StatusRequeue:
		return "Requeue"
	case StatusInterrupt:
		return "Interrupt"
	case StatusPropose:
		return "Propose"
	default:
		return "Unknown"
	}
}
