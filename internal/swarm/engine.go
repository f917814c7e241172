// Package swarm runs ingestion units on a bounded worker pool whose width follows
// provider throttling.
package swarm

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of work. Its error only feeds throttling detection; callers report
// results through their own channels.
type Task func(ctx context.Context) error

// Options sizes the pool.
type Options struct {
	// Workers is the starting and maximum concurrency. 1 runs tasks strictly one at a time.
	Workers int
	// MinWorkers is the floor throttling can push concurrency down to.
	MinWorkers int
	// Healthy is the latency under which a completion widens the pool.
	Healthy time.Duration
	// IsThrottle classifies task errors. Nil disables backoff.
	IsThrottle func(error) bool
}

// Engine manages the worker pool and concurrency.
type Engine struct {
	aimd       *AIMD
	isThrottle func(error) bool

	mu     sync.Mutex
	active int
	wake   chan struct{}
	stats  Stats
	wg     sync.WaitGroup
}

// Stats holds runtime statistics for the engine.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
	Throttled      int64
}

// NewEngine creates a pool.
func NewEngine(opts Options) *Engine {
	workers := max(opts.Workers, 1)
	minWorkers := opts.MinWorkers
	if minWorkers <= 0 || minWorkers > workers {
		minWorkers = 1
	}
	healthy := opts.Healthy
	if healthy <= 0 {
		healthy = 30 * time.Second
	}
	return &Engine{
		aimd:       NewAIMD(workers, minWorkers, workers, healthy),
		isThrottle: opts.IsThrottle,
		wake:       make(chan struct{}),
	}
}

// Submit blocks until a worker slot is free under the current concurrency, then starts
// t. It returns ctx.Err() if ctx ends first; t is then not run.
func (e *Engine) Submit(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		e.mu.Lock()
		if e.active < e.aimd.GetConcurrency() {
			e.active++
			e.wg.Add(1)
			e.mu.Unlock()
			go e.run(ctx, t)
			return nil
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Wait blocks until every submitted task has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// GetStats returns current engine stats.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ActiveWorkers = e.active
	s.Concurrency = e.aimd.GetConcurrency()
	return s
}

func (e *Engine) run(ctx context.Context, t Task) {
	defer e.wg.Done()

	start := time.Now()
	err := t(ctx)
	latency := time.Since(start)

	throttled := err != nil && e.isThrottle != nil && e.isThrottle(err)
	e.aimd.Feedback(latency, throttled)

	e.mu.Lock()
	e.active--
	e.stats.TasksCompleted++
	if throttled {
		e.stats.Throttled++
	}
	close(e.wake)
	e.wake = make(chan struct{})
	e.mu.Unlock()
}
