// internal/sched/tickclock.go

package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickClock emits ticks and counts them atomically. It drives the
// idle goal-proposal loop.
type TickClock struct {
	ch       chan struct{}
	count    atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTickClock creates a clock but does not start it.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.ch <- struct{}{}:
				default: // consumer behind, drop the tick
				}
			case <-c.stop:
				close(c.ch)
				return
			}
		}
	}()
}

// C returns the tick channel. Closed after Stop.
func (c *TickClock) C() <-chan struct{} {
	return c.ch
}

// Stop signals the clock to stop emitting ticks. Safe to call twice.
func (c *TickClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Count returns the current tick count atomically.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}
