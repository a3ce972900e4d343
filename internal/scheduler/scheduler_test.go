package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	var count atomic.Int64
	s := New([]Job{
		{Name: "tick", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) { count.Add(1) }},
	})

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := count.Load(); got < 3 {
		t.Fatalf("expected at least 3 ticks within a second, got %d", got)
	}
}

func TestSchedulerStopHaltsJobs(t *testing.T) {
	var count atomic.Int64
	s := New([]Job{
		{Name: "tick", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) { count.Add(1) }},
	})
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != after {
		t.Fatalf("expected no further ticks after Stop, went from %d to %d", after, count.Load())
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	var count atomic.Int64
	s := New([]Job{
		{Name: "tick", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) { count.Add(1) }},
	})
	s.Start()
	s.Start() // second call must be a no-op, not a second goroutine
	defer s.Stop()

	time.Sleep(30 * time.Millisecond)
	// Not asserting an exact count (timing-dependent), just that Stop below
	// terminates cleanly with only one running goroutine per job.
}

func TestSchedulerRunsMultipleJobsIndependently(t *testing.T) {
	var fast, slow atomic.Int64
	s := New([]Job{
		{Name: "fast", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) { fast.Add(1) }},
		{Name: "slow", Interval: 50 * time.Millisecond, Run: func(ctx context.Context) { slow.Add(1) }},
	})
	s.Start()
	defer s.Stop()

	time.Sleep(120 * time.Millisecond)
	if fast.Load() <= slow.Load() {
		t.Errorf("expected fast job to tick more often than slow job: fast=%d slow=%d", fast.Load(), slow.Load())
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	s := New([]Job{{Name: "noop", Interval: time.Second, Run: func(ctx context.Context) {}}})
	s.Stop() // must not panic or block
}
