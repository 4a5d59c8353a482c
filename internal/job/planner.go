package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goalsched/internal/sched"
)

// StepPlanner simulates executing a goal as a fixed number of timed
// steps, checking for cancellation between steps the way a real
// tool-calling planner observes it between tool invocations.
type StepPlanner struct {
	Steps     int           // 3 when zero
	StepDelay time.Duration // 500ms when zero
}

func (p *StepPlanner) Execute(ctx context.Context, goal string) (sched.ExecutionResult, error) {
	steps := p.Steps
	if steps <= 0 {
		steps = 3
	}
	delay := p.StepDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for i := 0; i < steps; i++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return sched.ExecutionResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return sched.ExecutionResult{
		Success: true,
		Detail:  fmt.Sprintf("completed %q in %d steps", goal, steps),
	}, nil
}

// ListProposer cycles through a fixed list of goals. With an empty
// list it always defers to the scheduler's configured default goal.
type ListProposer struct {
	mu    sync.Mutex
	Goals []string
	next  int
}

func (p *ListProposer) Propose(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.Goals) == 0 {
		return "", nil
	}
	goal := p.Goals[p.next%len(p.Goals)]
	p.next++
	return goal, nil
}
