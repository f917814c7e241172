package swarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAIMD_Feedback(t *testing.T) {
	aimd := NewAIMD(10, 5, 20, 100*time.Millisecond)
	clock := time.Now()
	aimd.now = func() time.Time { return clock }
	tick := func() { clock = clock.Add(110 * time.Millisecond) }

	if aimd.GetConcurrency() != 10 {
		t.Errorf("Expected initial concurrency 10, got %d", aimd.GetConcurrency())
	}

	tick()
	aimd.Feedback(50*time.Millisecond, false)
	if aimd.GetConcurrency() != 11 {
		t.Errorf("Expected concurrency 11 after success, got %d", aimd.GetConcurrency())
	}

	// Dampened: no change within the window.
	aimd.Feedback(50*time.Millisecond, true)
	if aimd.GetConcurrency() != 11 {
		t.Errorf("Feedback inside the dampening window must be ignored, got %d", aimd.GetConcurrency())
	}

	tick()
	aimd.Feedback(500*time.Millisecond, true)
	if aimd.GetConcurrency() != 5 {
		t.Errorf("Expected concurrency 5 after throttle, got %d", aimd.GetConcurrency())
	}

	tick()
	aimd.Feedback(500*time.Millisecond, true)
	if aimd.GetConcurrency() != 5 {
		t.Errorf("Concurrency dropped below min limit: %d", aimd.GetConcurrency())
	}

	tick()
	aimd.Feedback(500*time.Millisecond, false)
	if aimd.GetConcurrency() != 5 {
		t.Errorf("Slow completions must not widen the pool, got %d", aimd.GetConcurrency())
	}
}

func TestAIMD_ClampsStart(t *testing.T) {
	if got := NewAIMD(50, 1, 4, time.Second).GetConcurrency(); got != 4 {
		t.Errorf("start above max: got %d", got)
	}
	if got := NewAIMD(0, 0, 0, time.Second).GetConcurrency(); got != 1 {
		t.Errorf("degenerate bounds: got %d", got)
	}
}

func TestEngine_BoundsConcurrency(t *testing.T) {
	e := NewEngine(Options{Workers: 3})
	var running, peak atomic.Int32

	for range 12 {
		err := e.Submit(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	e.Wait()

	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds 3", peak.Load())
	}
	if got := e.GetStats().TasksCompleted; got != 12 {
		t.Errorf("completed = %d", got)
	}
}

func TestEngine_SingleWorkerIsSequential(t *testing.T) {
	e := NewEngine(Options{Workers: 1})
	var mu sync.Mutex
	var order []int
	for i := range 5 {
		_ = e.Submit(context.Background(), func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	e.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestEngine_ThrottleNarrowsPool(t *testing.T) {
	errThrottle := errors.New("ThrottlingException")
	e := NewEngine(Options{Workers: 8, IsThrottle: func(err error) bool { return errors.Is(err, errThrottle) }})
	e.aimd.lastChange = time.Time{}

	_ = e.Submit(context.Background(), func(ctx context.Context) error { return errThrottle })
	e.Wait()

	s := e.GetStats()
	if s.Concurrency != 4 || s.Throttled != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEngine_SubmitHonoursCancellation(t *testing.T) {
	e := NewEngine(Options{Workers: 1})
	release := make(chan struct{})
	_ = e.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := e.Submit(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	close(release)
	e.Wait()
	if ran {
		t.Error("task submitted after cancellation must not run")
	}
}
