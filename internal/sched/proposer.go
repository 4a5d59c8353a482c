package sched

import (
	"context"
	"strings"
	"time"
)

// proposeLoop ticks at a fixed interval and, only when the queue and
// the execution slot are both idle, asks the GoalProposer for a new
// autonomous goal. Enqueueing while busy or backlogged would pile up
// low-priority work behind the FIFO tie-break, so the idle check is
// strict.
func (s *Scheduler) proposeLoop(ctx context.Context) {
	defer s.wg.Done()

	log := s.logger.WithComponent("proposer")

	clock := NewTickClock(1)
	clock.Start(s.cfg.tickInterval())
	defer clock.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-clock.C():
			if !ok {
				return
			}
		}

		if !s.queue.IsEmpty() || s.busy() {
			continue
		}

		goal, err := s.proposer.Propose(ctx)
		if err != nil {
			log.Warn("goal proposal failed, using default goal", "error", err)
			goal = ""
		}
		goal = strings.TrimSpace(goal)
		if goal == "" {
			goal = s.cfg.DefaultGoal
		}

		s.mu.Lock()
		s.stats.GoalsProposed++
		s.mu.Unlock()
		s.emit(StatusEvent{
			Time: time.Now(), Kind: StatusPropose,
			Goal: goal, Priority: s.cfg.PriorityAutonomous, Source: SourceAutonomous,
		})
		log.Info("autonomous goal proposed", "goal", goal, "tick", clock.Count())

		s.queue.EnqueueGoalWithSplit(ctx, goal, s.cfg.PriorityAutonomous, SourceAutonomous)
	}
}
