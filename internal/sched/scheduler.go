// internal/sched/scheduler.go

package sched

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"goalsched/internal/logging"
)

type schedulerState int

const (
	stateStopped schedulerState = iota
	stateRunning
	stateStopping
)

// Scheduler owns the single execution slot. It pulls tasks from the
// TaskQueue, runs at most one at a time, and preempts the running task
// when a strictly more urgent one arrives. A second loop proposes a
// new autonomous goal whenever the whole system is idle.
type Scheduler struct {
	mu    sync.Mutex // protects state, slot and stats
	state schedulerState
	slot  *execution // nil while idle
	stats Stats

	queue    *TaskQueue
	planner  Planner
	proposer GoalProposer
	cfg      Config
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	execMu sync.Mutex // serializes planner use across executions

	statusCh chan StatusEvent

	// CSV event trace
	csvMu     sync.Mutex
	csvFile   *os.File
	csvWriter *csv.Writer
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	TasksProcessed int
	TasksFailed    int
	Preemptions    int
	GoalsProposed  int
	StartTime      time.Time
	QueueLen       int
	Busy           bool
	Running        bool
}

// New creates a Scheduler wired to its three collaborators. The
// planner must be non-nil; a nil splitter enqueues goals whole and a
// nil proposer always falls back to the configured default goal.
func New(cfg Config, planner Planner, splitter Splitter, proposer GoalProposer, logger *logging.Logger) *Scheduler {
	if planner == nil {
		panic("sched: planner must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if proposer == nil {
		proposer = GoalProposerFunc(func(context.Context) (string, error) { return "", nil })
	}

	s := &Scheduler{
		queue:    NewTaskQueue(splitter, logger.WithComponent("queue")),
		planner:  planner,
		proposer: proposer,
		cfg:      cfg,
		logger:   logger,
		statusCh: make(chan StatusEvent, 256),
	}
	s.queue.onPush = func(t *Task) {
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusEnqueue,
			TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
		})
	}
	return s
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before Start().
func (s *Scheduler) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"timestamp", "event", "task_id", "priority", "source", "goal", "detail"})
	w.Flush()

	s.csvMu.Lock()
	s.csvFile = f
	s.csvWriter = w
	s.csvMu.Unlock()
	return nil
}

// StatusChannel exposes a read-only stream of scheduler events.
// Consumption is optional: emission never blocks.
func (s *Scheduler) StatusChannel() <-chan StatusEvent {
	return s.statusCh
}

// SubmitExternalGoal enqueues a goal from the external controller at
// PriorityExternal. It returns immediately; splitting and enqueueing
// happen on a background goroutine so a slow splitter cannot block
// the ingestion path.
func (s *Scheduler) SubmitExternalGoal(goal string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go s.queue.EnqueueGoalWithSplit(ctx, goal, s.cfg.PriorityExternal, SourceExternal)
}

// Start launches the dispatch and idle-proposal loops. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return nil
	case stateStopping:
		s.mu.Unlock()
		return errors.New("scheduler is stopping")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.state = stateRunning
	s.stats = Stats{StartTime: time.Now()}
	s.mu.Unlock()

	s.wg.Add(2)
	go s.dispatchLoop(ctx)
	go s.proposeLoop(ctx)

	s.logger.Info("scheduler started",
		"tick_seconds", s.cfg.TickSeconds,
		"priority_external", s.cfg.PriorityExternal,
		"priority_autonomous", s.cfg.PriorityAutonomous)
	return nil
}

// Stop cancels any running execution and both loops, then waits
// (bounded by stop_timeout_ms) for their orderly shutdown. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopping
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(s.cfg.stopTimeout()):
		err = errors.New("scheduler shutdown timed out")
		s.logger.Error("scheduler shutdown timed out")
	}

	s.csvMu.Lock()
	if s.csvFile != nil {
		s.csvWriter.Flush()
		s.csvFile.Close()
		s.csvFile, s.csvWriter = nil, nil
	}
	s.csvMu.Unlock()

	s.mu.Lock()
	s.state = stateStopped
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return err
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	st.Busy = s.slot != nil
	st.Running = s.state == stateRunning
	s.mu.Unlock()
	st.QueueLen = s.queue.Len()
	return st
}

// dispatchLoop is the main control loop. While idle it pops the next
// task or waits (bounded) for the new-task signal; while busy it races
// the running execution's completion against the signal and preempts
// when strictly more urgent work is pending.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		ex := s.slot
		s.mu.Unlock()

		if ctx.Err() != nil {
			// Shutdown can land here with the slot still occupied, e.g.
			// after a wakeup that decided not to preempt. The running
			// execution must still be cancelled and unwound.
			if ex != nil {
				s.abortRunning(ex)
			}
			return
		}

		if ex == nil {
			task := s.queue.PopNext()
			if task == nil {
				timer := time.NewTimer(s.cfg.dispatchWait())
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-s.queue.Notify():
					timer.Stop()
				case <-timer.C:
				}
				continue
			}
			s.begin(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
			s.abortRunning(ex)
			return
		case <-ex.done:
			s.finish(ex)
		case <-s.queue.Notify():
			s.maybePreempt(ex)
		}
	}
}

// begin places the task into the execution slot and starts executing
// it asynchronously.
func (s *Scheduler) begin(ctx context.Context, t *Task) {
	runCtx, cancel := context.WithCancel(ctx)
	ex := &execution{task: t, ctx: runCtx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.slot != nil {
		s.mu.Unlock()
		cancel()
		// Two tasks in the slot breaks the core contract of the whole
		// system; this is a programming error, not a runtime condition.
		panic("sched: execution slot already occupied")
	}
	s.slot = ex
	s.mu.Unlock()

	s.emit(StatusEvent{
		Time: time.Now(), Kind: StatusDispatch,
		TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
	})
	s.logger.Info("task dispatched", "task_id", t.ID, "goal", t.Goal, "priority", t.Priority)

	s.wg.Add(1)
	go s.runExecution(ex)
}

// finish clears the slot and reports the outcome of a completed
// execution. Failures drop the task; only preemption requeues.
func (s *Scheduler) finish(ex *execution) {
	s.clearSlot(ex)

	t := ex.task
	switch {
	case ex.err != nil && errors.Is(ex.err, context.Canceled):
		// Cancelled by something other than a preemption decision
		// (scheduler shutdown); dropped without retry.
		s.logger.Info("task cancelled", "task_id", t.ID, "goal", t.Goal)
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusInterrupt,
			TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
			Detail: "cancelled",
		})
	case ex.err != nil:
		s.countFailure()
		s.logger.Warn("task failed", "task_id", t.ID, "goal", t.Goal, "error", ex.err)
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusFail,
			TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
			Detail: ex.err.Error(),
		})
	case !ex.result.Success:
		s.countFailure()
		s.logger.Warn("task failed", "task_id", t.ID, "goal", t.Goal, "detail", ex.result.Detail)
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusFail,
			TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
			Detail: ex.result.Detail,
		})
	default:
		s.mu.Lock()
		s.stats.TasksProcessed++
		s.mu.Unlock()
		s.logger.Info("task completed", "task_id", t.ID, "goal", t.Goal, "detail", ex.result.Detail)
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusFinish,
			TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
			Detail: ex.result.Detail,
		})
	}
}

// maybePreempt is called on a new-task signal while busy. Preemption
// happens only when the pending minimum priority is strictly smaller
// than the running task's; equal priority never preempts, which keeps
// same-band tasks from thrashing each other.
func (s *Scheduler) maybePreempt(ex *execution) {
	pending, ok := s.queue.PeekMinPriority()
	if !ok || pending >= ex.task.Priority {
		return
	}

	// The execution may have finished while the signal was in flight;
	// a finished execution is a completion, not a preemption target.
	select {
	case <-ex.done:
		s.finish(ex)
		return
	default:
	}

	t := ex.task
	s.logger.Info("preempting running task",
		"task_id", t.ID, "goal", t.Goal,
		"running_priority", t.Priority, "pending_priority", pending)
	s.emit(StatusEvent{
		Time: time.Now(), Kind: StatusPreempt,
		TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
		Detail: "pending priority " + strconv.Itoa(pending),
	})

	ex.cancel()
	s.awaitCancelled(ex)

	// The planner may have completed (or failed on its own) before it
	// observed the cancellation; treat that as a completion.
	if ex.err == nil || !errors.Is(ex.err, context.Canceled) {
		s.finish(ex)
		return
	}

	// Re-enqueue before the slot is cleared so the task can never be
	// lost between the two steps. Same task value, fresh sequence
	// number: the requeued task goes behind same-priority arrivals.
	s.queue.Push(t)
	s.clearSlot(ex)
	s.mu.Lock()
	s.stats.Preemptions++
	s.mu.Unlock()
	s.emit(StatusEvent{
		Time: time.Now(), Kind: StatusRequeue,
		TaskID: t.ID, Goal: t.Goal, Priority: t.Priority, Source: t.Source,
	})
	s.notifyInterrupted(t)
}

// abortRunning cancels the running execution during shutdown and
// waits for it to unwind. The task is dropped, not requeued.
func (s *Scheduler) abortRunning(ex *execution) {
	ex.cancel()
	s.awaitCancelled(ex)
	s.clearSlot(ex)
	s.logger.Info("running task cancelled for shutdown", "task_id", ex.task.ID, "goal", ex.task.Goal)
}

// awaitCancelled waits for a cancelled execution to return. The wait
// is bounded only for complaint purposes: the single-slot invariant
// outranks preemption latency, so a second execution is never started
// while the planner drags its feet.
func (s *Scheduler) awaitCancelled(ex *execution) {
	grace := time.NewTimer(s.cfg.preemptGrace())
	select {
	case <-ex.done:
		grace.Stop()
	case <-grace.C:
		s.logger.Warn("planner slow to observe cancellation", "task_id", ex.task.ID, "goal", ex.task.Goal)
		<-ex.done
	}
}

func (s *Scheduler) clearSlot(ex *execution) {
	s.mu.Lock()
	if s.slot != ex {
		s.mu.Unlock()
		panic("sched: execution slot out of sync")
	}
	s.slot = nil
	s.mu.Unlock()
}

func (s *Scheduler) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot != nil
}

func (s *Scheduler) countFailure() {
	s.mu.Lock()
	s.stats.TasksFailed++
	s.mu.Unlock()
}

// emit publishes an event to the status channel (non-blocking, drops
// on overflow so a stalled consumer cannot deadlock the loop) and
// mirrors it to the CSV trace when enabled.
func (s *Scheduler) emit(ev StatusEvent) {
	select {
	case s.statusCh <- ev:
	default:
	}

	s.csvMu.Lock()
	if s.csvWriter != nil {
		s.csvWriter.Write([]string{
			ev.Time.Format(time.RFC3339Nano),
			ev.Kind.String(),
			ev.TaskID,
			strconv.Itoa(ev.Priority),
			string(ev.Source),
			ev.Goal,
			ev.Detail,
		})
		s.csvWriter.Flush()
	}
	s.csvMu.Unlock()
}
