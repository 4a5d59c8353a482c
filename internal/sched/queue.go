// internal/sched/queue.go

package sched

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"

	"goalsched/internal/logging"
)

// TaskQueue holds pending tasks ordered by (priority, sequence) and
// signals waiters when new work arrives. All methods are safe for
// concurrent use; none suspends while holding the lock.
type TaskQueue struct {
	mu       sync.Mutex
	rbt      *redblacktree.Tree // ordered by queueKey
	seq      uint64             // insertion counter, FIFO tie-break
	notify   chan struct{}      // capacity 1; set on push, cleared by receive
	splitter Splitter
	logger   *logging.Logger
	onPush   func(*Task) // optional hook, set before first use
}

// NewTaskQueue creates an empty queue. The splitter is consulted by
// EnqueueGoalWithSplit; pass nil to always enqueue goals whole.
func NewTaskQueue(splitter Splitter, logger *logging.Logger) *TaskQueue {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &TaskQueue{
		rbt:      redblacktree.NewWith(compareQueueKeys),
		notify:   make(chan struct{}, 1),
		splitter: splitter,
		logger:   logger,
	}
}

// Push inserts a task under the next sequence number and sets the
// new-task signal. A requeued task goes behind any same-priority task
// that arrived in the meantime; original arrival order is not
// preserved across preemption.
func (q *TaskQueue) Push(t *Task) {
	q.mu.Lock()
	q.seq++
	q.rbt.Put(queueKey{priority: t.Priority, seq: q.seq}, t)
	q.mu.Unlock()

	q.logger.Info("task enqueued",
		"task_id", t.ID, "priority", t.Priority, "source", t.Source, "goal", t.Goal)
	if q.onPush != nil {
		q.onPush(t)
	}

	select {
	case q.notify <- struct{}{}:
	default: // already signalled
	}
}

// PopNext removes and returns the task with the smallest
// (priority, sequence) key, or nil if the queue is empty.
func (q *TaskQueue) PopNext() *Task {
	q.mu.Lock()
	node := q.rbt.Left()
	if node == nil {
		q.mu.Unlock()
		return nil
	}
	q.rbt.Remove(node.Key)
	q.mu.Unlock()

	t := node.Value.(*Task)
	q.logger.Info("task dequeued",
		"task_id", t.ID, "priority", t.Priority, "source", t.Source, "goal", t.Goal)
	return t
}

// PeekMinPriority returns the priority of the head entry without
// removing it. The second return is false when the queue is empty.
func (q *TaskQueue) PeekMinPriority() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	node := q.rbt.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(queueKey).priority, true
}

// IsEmpty reports whether no tasks are pending.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rbt.Size() == 0
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rbt.Size()
}

// Notify exposes the new-task signal. Push performs a non-blocking
// send; a receive clears the signal.
func (q *TaskQueue) Notify() <-chan struct{} {
	return q.notify
}

// EnqueueGoalWithSplit decomposes a goal via the splitter and pushes
// one task per sub-goal, in splitter order, all at the given priority
// and source. Splitter errors and empty results fall back to a single
// task carrying the original goal; the caller never sees the failure.
// This is the sole ingestion entry point for both goal sources.
func (q *TaskQueue) EnqueueGoalWithSplit(ctx context.Context, goal string, priority int, source Source) {
	var steps []string
	if q.splitter != nil {
		var err error
		steps, err = q.splitter.Split(ctx, goal)
		if err != nil {
			q.logger.Warn("goal split failed, enqueueing whole goal", "goal", goal, "error", err)
			steps = nil
		}
	}
	if len(steps) == 0 {
		steps = []string{goal}
	}
	for _, step := range steps {
		q.Push(NewTask(step, priority, source))
	}
}

// queueKey orders the red-black tree: strict priority first, then
// insertion sequence for FIFO within a priority band.
type queueKey struct {
	priority int
	seq      uint64
}

func compareQueueKeys(a, b any) int {
	ka, kb := a.(queueKey), b.(queueKey)
	switch {
	case ka.priority < kb.priority:
		return -1
	case ka.priority > kb.priority:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
