package sched

import "context"

// ExecutionResult is the outcome a Planner reports for one goal.
type ExecutionResult struct {
	Success bool
	Detail  string
}

// Splitter decomposes a goal into an ordered list of sub-goals.
// An error or an empty list makes the queue fall back to the
// original goal as a single step.
type Splitter interface {
	Split(ctx context.Context, goal string) ([]string, error)
}

// Planner performs the actual work of a single goal, typically via
// tool calls. It must honor ctx: once cancelled, it should return
// promptly without completing further external side effects where
// avoidable. Calling it again later with the same goal string must be
// safe.
type Planner interface {
	Execute(ctx context.Context, goal string) (ExecutionResult, error)
}

// GoalProposer supplies a new autonomous goal. It is only consulted
// while the scheduler is fully idle. An error or a blank result makes
// the idle loop fall back to the configured default goal.
type GoalProposer interface {
	Propose(ctx context.Context) (string, error)
}

// SplitterFunc adapts a function to the Splitter interface.
type SplitterFunc func(ctx context.Context, goal string) ([]string, error)

func (f SplitterFunc) Split(ctx context.Context, goal string) ([]string, error) {
	return f(ctx, goal)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, goal string) (ExecutionResult, error)

func (f PlannerFunc) Execute(ctx context.Context, goal string) (ExecutionResult, error) {
	return f(ctx, goal)
}

// GoalProposerFunc adapts a function to the GoalProposer interface.
type GoalProposerFunc func(ctx context.Context) (string, error)

func (f GoalProposerFunc) Propose(ctx context.Context) (string, error) {
	return f(ctx)
}
