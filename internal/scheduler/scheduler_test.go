package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

var base = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func TestManualSchedulerFiresEachInterval(t *testing.T) {
	clock := NewFakeClock(base)
	s := NewManualScheduler(clock)

	var ticks []time.Time
	s.Every(time.Second, func(now time.Time) { ticks = append(ticks, now) })

	s.Advance(3500 * time.Millisecond)

	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	for i, at := range ticks {
		want := base.Add(time.Duration(i+1) * time.Second)
		if !at.Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, at, want)
		}
	}
	if !clock.Now().Equal(base.Add(3500 * time.Millisecond)) {
		t.Fatalf("clock not advanced to target: %v", clock.Now())
	}
}

func TestManualSchedulerStopFromCallback(t *testing.T) {
	clock := NewFakeClock(base)
	s := NewManualScheduler(clock)

	calls := 0
	var job *Job
	job = s.Every(time.Second, func(time.Time) {
		calls++
		if calls == 2 {
			job.Stop()
		}
	})

	s.Advance(10 * time.Second)

	if calls != 2 {
		t.Fatalf("expected callback to stop after 2 calls, got %d", calls)
	}
	if job.Active() {
		t.Fatalf("job still active")
	}
	if s.ActiveJobs() != 0 {
		t.Fatalf("stopped job still registered")
	}
	select {
	case <-job.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
	job.Stop()
}

func TestRealSchedulerStops(t *testing.T) {
	s := NewRealScheduler()
	var calls atomic.Int32
	job := s.Every(5*time.Millisecond, func(time.Time) { calls.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	job.Stop()
	// Allow a callback that was already running to finish.
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)

	if after < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", after)
	}
	if calls.Load() != after {
		t.Fatalf("ticks continued after Stop: %d -> %d", after, calls.Load())
	}
}
