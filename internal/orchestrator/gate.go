package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/minestream/internal/observe"
)

// Gate admits one backend job at a time. Waiters are admitted in arrival
// order. A waiter whose context ends leaves the queue without running.
type Gate struct {
	sem     *semaphore.Weighted
	metrics *observe.Metrics
}

// NewGate returns a Gate that reports queue depth and wait time to m.
func NewGate(m *observe.Metrics) *Gate {
	return &Gate{sem: semaphore.NewWeighted(1), metrics: m}
}

// Do waits for the gate and runs fn while holding it. ctx bounds the wait
// only; once fn starts it runs to completion.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	start := time.Now()
	g.metrics.QueueDepth.Add(ctx, 1)
	err := g.sem.Acquire(ctx, 1)
	g.metrics.QueueDepth.Add(ctx, -1)
	g.metrics.QueueWait.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("orchestrator: waiting for backend: %w", err)
	}
	defer g.sem.Release(1)
	return fn()
}
