package sched

import (
	"context"
	"time"
)

// execution is the runtime state of the single execution slot: the
// running task, its cancellation handle, and a done channel closed
// when the planner call returns. Created when a task begins executing,
// discarded when it finishes, fails, or is preempted.
type execution struct {
	task   *Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	result ExecutionResult
	err    error
}

// runExecution delegates the task's goal to the planner. Cancellation
// is observed only at the planner's own suspension points (tool calls,
// LLM calls); the wrapper itself never blocks anywhere else.
func (s *Scheduler) runExecution(ex *execution) {
	defer s.wg.Done()
	defer close(ex.done)
	defer ex.cancel()

	// Redundant with the single-slot invariant, but defends the
	// planner's shared resources against accidental re-entry.
	s.execMu.Lock()
	defer s.execMu.Unlock()

	ex.result, ex.err = s.planner.Execute(ex.ctx, ex.task.Goal)
}

// notifyInterrupted emits the "interrupted, will retry" notification
// after a preemption. It is fire-and-forget and deliberately not bound
// to the execution context, so the cancellation that triggered it
// cannot swallow it.
func (s *Scheduler) notifyInterrupted(t *Task) {
	s.emit(StatusEvent{
		Time: time.Now(), Kind: StatusInterrupt,
		TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
		Detail: "interrupted by a more urgent goal, will retry",
	})
	s.logger.Info("task interrupted, requeued for retry", "task_id", t.ID, "goal", t.Goal)
}
