package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc is invoked on every tick with the scheduler clock's current time.
type TickFunc func(now time.Time)

// Scheduler starts recurring jobs.
type Scheduler interface {
	Every(interval time.Duration, fn TickFunc) *Job
}

// Job is the cancellation token of a recurring job.
type Job struct {
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newJob() *Job {
	return &Job{done: make(chan struct{})}
}

// Stop cancels the job. It is safe to call more than once and from inside the
// job's own callback. Once Stop returns no new callback invocation starts.
func (j *Job) Stop() {
	j.once.Do(func() {
		j.stopped.Store(true)
		close(j.done)
	})
}

// Active reports whether the job has not been stopped.
func (j *Job) Active() bool {
	return !j.stopped.Load()
}

// Done is closed when the job is stopped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// RealScheduler runs each job on its own goroutine driven by a time.Ticker.
type RealScheduler struct {
	Clock Clock
}

// NewRealScheduler creates a scheduler reading time from the system clock.
func NewRealScheduler() *RealScheduler {
	return &RealScheduler{Clock: RealClock{}}
}

// Every starts fn on a fixed cadence until the returned job is stopped.
func (s *RealScheduler) Every(interval time.Duration, fn TickFunc) *Job {
	job := newJob()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-job.done:
				return
			case <-ticker.C:
				if !job.Active() {
					return
				}
				fn(s.Clock.Now())
			}
		}
	}()

	return job
}

// ManualScheduler fires jobs only when the test advances it.
type ManualScheduler struct {
	clock *FakeClock

	mu   sync.Mutex
	jobs []*manualJob
}

type manualJob struct {
	job      *Job
	interval time.Duration
	next     time.Time
	fn       TickFunc
}

// NewManualScheduler creates a scheduler bound to the given fake clock.
func NewManualScheduler(clock *FakeClock) *ManualScheduler {
	return &ManualScheduler{clock: clock}
}

// Every registers fn to fire each interval of fake time.
func (s *ManualScheduler) Every(interval time.Duration, fn TickFunc) *Job {
	job := newJob()
	s.mu.Lock()
	s.jobs = append(s.jobs, &manualJob{
		job:      job,
		interval: interval,
		next:     s.clock.Now().Add(interval),
		fn:       fn,
	})
	s.mu.Unlock()
	return job
}

// Advance moves the clock forward by d in steps, firing every due job in
// registration order. Callbacks run synchronously on the caller's goroutine.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		due, at := s.nextDue(target)
		if due == nil {
			s.clock.Set(target)
			return
		}
		s.clock.Set(at)
		if due.job.Active() {
			due.fn(at)
		}
	}
}

// ActiveJobs is the number of registered jobs that have not been stopped.
func (s *ManualScheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.job.Active() {
			n++
		}
	}
	return n
}

// nextDue pops the earliest job due at or before target and schedules its next run.
func (s *ManualScheduler) nextDue(target time.Time) (*manualJob, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due *manualJob
	live := s.jobs[:0]
	for _, j := range s.jobs {
		if !j.job.Active() {
			continue
		}
		live = append(live, j)
		if j.next.After(target) {
			continue
		}
		if due == nil || j.next.Before(due.next) {
			due = j
		}
	}
	s.jobs = live
	if due == nil {
		return nil, time.Time{}
	}
	at := due.next
	due.next = due.next.Add(due.interval)
	return due, at
}
