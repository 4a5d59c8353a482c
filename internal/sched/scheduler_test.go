package sched

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stubPlanner is a controllable Planner: goals can be held open until
// released, forced to fail, and every call is recorded along with the
// number of concurrently running executions.
type stubPlanner struct {
	mu          sync.Mutex
	calls       []string
	inflight    int
	maxInflight int
	hold        map[string]chan struct{}
	fail        map[string]bool
	errs        map[string]error
	delay       time.Duration
	started     chan string
}

func newStubPlanner() *stubPlanner {
	return &stubPlanner{
		hold:    make(map[string]chan struct{}),
		fail:    make(map[string]bool),
		errs:    make(map[string]error),
		started: make(chan string, 64),
	}
}

// holdGoal makes executions of the given goal block until the
// returned channel is closed (or the execution is cancelled).
func (p *stubPlanner) holdGoal(goal string) chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	p.hold[goal] = ch
	p.mu.Unlock()
	return ch
}

func (p *stubPlanner) Execute(ctx context.Context, goal string) (ExecutionResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, goal)
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	holdCh := p.hold[goal]
	shouldFail := p.fail[goal]
	err := p.errs[goal]
	delay := p.delay
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}()

	p.started <- goal

	if holdCh != nil {
		select {
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-holdCh:
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ExecutionResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return ExecutionResult{}, err
	}
	if shouldFail {
		return ExecutionResult{Success: false, Detail: "simulated failure"}, nil
	}
	return ExecutionResult{Success: true, Detail: "done"}, nil
}

func (p *stubPlanner) goals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *stubPlanner) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInflight
}

// eventLog drains the status channel in the background.
type eventLog struct {
	mu     sync.Mutex
	events []StatusEvent
}

func collectEvents(s *Scheduler) *eventLog {
	el := &eventLog{}
	go func() {
		for ev := range s.StatusChannel() {
			el.mu.Lock()
			el.events = append(el.events, ev)
			el.mu.Unlock()
		}
	}()
	return el
}

func (el *eventLog) kindsFor(taskID string) []StatusKind {
	el.mu.Lock()
	defer el.mu.Unlock()
	var kinds []StatusKind
	for _, ev := range el.events {
		if ev.TaskID == taskID {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func (el *eventLog) find(kind StatusKind) (StatusEvent, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	for _, ev := range el.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return StatusEvent{}, false
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.TickSeconds = 3600 // keep the idle proposer out of the way
	cfg.DispatchWaitMS = 10
	cfg.PreemptGraceMS = 1000
	cfg.StopTimeoutMS = 2000
	return cfg
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func recvStarted(t *testing.T, p *stubPlanner, want string) {
	t.Helper()
	select {
	case got := <-p.started:
		if got != want {
			t.Fatalf("started goal = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q to start", want)
	}
}

func TestExternalGoalExecutesImmediately(t *testing.T) {
	p := newStubPlanner()
	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.SubmitExternalGoal("G1")
	recvStarted(t, p, "G1")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksProcessed == 1 }, "G1 to complete")

	st := s.Stats()
	if st.QueueLen != 0 {
		t.Fatalf("queue len = %d, want 0", st.QueueLen)
	}
	if st.Busy {
		t.Fatal("slot should be empty after completion")
	}
	if got := p.goals(); len(got) != 1 || got[0] != "G1" {
		t.Fatalf("planner calls = %v, want [G1]", got)
	}
}

func TestPreemptionRequeuesInterruptedTask(t *testing.T) {
	p := newStubPlanner()
	release := p.holdGoal("G1")

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.queue.EnqueueGoalWithSplit(context.Background(), "G1", PriorityAutonomous, SourceAutonomous)
	recvStarted(t, p, "G1")

	s.SubmitExternalGoal("G2")
	// G1 must be cancelled and G2 dispatched before G1 runs again.
	recvStarted(t, p, "G2")
	recvStarted(t, p, "G1")
	close(release)

	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksProcessed == 2 }, "G2 and retried G1 to complete")

	if got := p.goals(); len(got) != 3 || got[0] != "G1" || got[1] != "G2" || got[2] != "G1" {
		t.Fatalf("planner calls = %v, want [G1 G2 G1]", got)
	}
	st := s.Stats()
	if st.Preemptions != 1 {
		t.Fatalf("preemptions = %d, want 1", st.Preemptions)
	}
	if st.QueueLen != 0 {
		t.Fatalf("queue len = %d, want 0", st.QueueLen)
	}
}

func TestEqualPriorityDoesNotPreempt(t *testing.T) {
	p := newStubPlanner()
	release := p.holdGoal("G1")

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.SubmitExternalGoal("G1")
	recvStarted(t, p, "G1")

	s.SubmitExternalGoal("G2")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().QueueLen == 1 }, "G2 to be queued")

	// Give the dispatcher several wakeups to (wrongly) preempt.
	time.Sleep(100 * time.Millisecond)
	if got := p.goals(); len(got) != 1 {
		t.Fatalf("planner calls = %v, equal priority must not preempt", got)
	}
	if s.Stats().Preemptions != 0 {
		t.Fatalf("preemptions = %d, want 0", s.Stats().Preemptions)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksProcessed == 2 }, "both goals to complete in order")

	if got := p.goals(); len(got) != 2 || got[0] != "G1" || got[1] != "G2" {
		t.Fatalf("planner calls = %v, want [G1 G2]", got)
	}
}

func TestPlannerFailureDropsTask(t *testing.T) {
	p := newStubPlanner()
	p.fail["G1"] = true

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.SubmitExternalGoal("G1")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksFailed == 1 }, "G1 to fail")

	time.Sleep(50 * time.Millisecond) // a retry would show up here
	if got := p.goals(); len(got) != 1 {
		t.Fatalf("planner calls = %v, failed task must not be retried", got)
	}
	st := s.Stats()
	if st.QueueLen != 0 || st.Busy {
		t.Fatalf("failed task must be dropped, queue=%d busy=%v", st.QueueLen, st.Busy)
	}
}

func TestPlannerErrorDropsTask(t *testing.T) {
	p := newStubPlanner()
	p.errs["G1"] = context.DeadlineExceeded

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.SubmitExternalGoal("G1")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksFailed == 1 }, "G1 to fail")

	if st := s.Stats(); st.QueueLen != 0 {
		t.Fatalf("queue len = %d, want 0", st.QueueLen)
	}
}

func TestAtMostOneExecution(t *testing.T) {
	p := newStubPlanner()
	p.delay = 5 * time.Millisecond

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// Mixed priorities so some submissions preempt others.
	for i := 0; i < 5; i++ {
		s.queue.EnqueueGoalWithSplit(context.Background(), "low", PriorityAutonomous, SourceAutonomous)
		s.SubmitExternalGoal("high")
	}

	waitFor(t, 5*time.Second, func() bool { return s.Stats().TasksProcessed == 10 }, "all ten tasks to complete")

	if max := p.maxConcurrent(); max != 1 {
		t.Fatalf("max concurrent executions = %d, want 1", max)
	}
}

func TestStopCancelsRunningExecution(t *testing.T) {
	p := newStubPlanner()
	p.holdGoal("G1")

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.SubmitExternalGoal("G1")
	recvStarted(t, p, "G1")

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop took %v, should be prompt", elapsed)
	}

	st := s.Stats()
	if st.Running || st.Busy {
		t.Fatalf("scheduler should be fully stopped, running=%v busy=%v", st.Running, st.Busy)
	}
	if st.TasksProcessed != 0 {
		t.Fatalf("cancelled task must not count as processed, got %d", st.TasksProcessed)
	}
}

func TestStopAfterIgnoredWakeupReleasesSlot(t *testing.T) {
	p := newStubPlanner()
	p.holdGoal("G1")

	s := New(testConfig(), p, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.SubmitExternalGoal("G1")
	recvStarted(t, p, "G1")

	// A same-priority arrival wakes the dispatcher without preempting,
	// so Stop can catch the loop at its top with the slot occupied.
	s.SubmitExternalGoal("G2")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().QueueLen == 1 }, "G2 to be queued")

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st := s.Stats()
	if st.Busy {
		t.Fatal("slot still occupied after Stop")
	}
	if st.Running {
		t.Fatal("scheduler still reports running after Stop")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	p := newStubPlanner()
	s := New(testConfig(), p, nil, nil, nil)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on stopped scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	// A stopped scheduler can be started again.
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()

	s.SubmitExternalGoal("G1")
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksProcessed == 1 }, "G1 to complete after restart")
}

func TestPreemptionEventSequence(t *testing.T) {
	p := newStubPlanner()
	release := p.holdGoal("G1")

	s := New(testConfig(), p, nil, nil, nil)
	el := collectEvents(s)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.queue.EnqueueGoalWithSplit(context.Background(), "G1", PriorityAutonomous, SourceAutonomous)
	recvStarted(t, p, "G1")
	s.SubmitExternalGoal("G2")
	recvStarted(t, p, "G2")
	recvStarted(t, p, "G1")
	close(release)
	waitFor(t, 2*time.Second, func() bool { return s.Stats().TasksProcessed == 2 }, "both goals to complete")

	preempt, ok := el.find(StatusPreempt)
	if !ok {
		t.Fatal("no Preempt event emitted")
	}
	if preempt.Goal != "G1" {
		t.Fatalf("preempted goal = %q, want G1", preempt.Goal)
	}

	// emission is asynchronous with respect to the stats counters
	waitFor(t, time.Second, func() bool { return len(el.kindsFor(preempt.TaskID)) >= 8 }, "all G1 events to arrive")

	kinds := el.kindsFor(preempt.TaskID)
	want := []StatusKind{
		StatusEnqueue, StatusDispatch, // initial run
		StatusPreempt, StatusEnqueue, StatusRequeue, StatusInterrupt, // preemption
		StatusDispatch, StatusFinish, // retry
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds for G1 = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, kinds[i], want[i], kinds)
		}
	}
}
