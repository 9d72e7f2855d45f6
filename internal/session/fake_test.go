package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/kvstore"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/offline"
	"github.com/stemsi/exstem-engine/internal/scheduler"
)

const testStudent = 7

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory results server that honours submission keys.
type fakeAPI struct {
	mu       sync.Mutex
	exam     *model.ExamDefinition
	eligible bool
	attempts []model.Attempt
	previous *model.ExamResult
	keys     map[int64]bool

	// submitErrs are returned by successive SubmitResult calls before the normal
	// path runs. landThenFail records the attempt and still fails the call.
	submitErrs   []error
	landThenFail bool

	submitCalls   int
	attemptsCalls int
	eligCalls     int
}

func newFakeAPI(exam *model.ExamDefinition) *fakeAPI {
	return &fakeAPI{exam: exam, eligible: true, keys: make(map[int64]bool)}
}

func (f *fakeAPI) CheckEligibility(_ context.Context, examID uuid.UUID, _ int) (*examapi.Eligibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eligCalls++
	if f.exam == nil || f.exam.ID != examID {
		return &examapi.Eligibility{}, nil
	}
	exam := *f.exam
	return &examapi.Eligibility{Eligible: f.eligible, Exam: &exam}, nil
}

func (f *fakeAPI) SubmitResult(_ context.Context, sub examapi.Submission) (*model.ExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++

	if f.landThenFail {
		f.landThenFail = false
		f.recordLocked(sub)
		return nil, examapi.ErrUnavailable
	}
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return nil, err
	}
	if f.keys[sub.SubmissionKey] {
		return nil, examapi.ErrAlreadySubmitted
	}
	res := f.recordLocked(sub)
	return &res, nil
}

func (f *fakeAPI) recordLocked(sub examapi.Submission) model.ExamResult {
	f.keys[sub.SubmissionKey] = true
	a := model.Attempt{
		ID:               uuid.New(),
		ExamID:           sub.ExamID,
		StudentID:        sub.StudentID,
		SubmissionKey:    sub.SubmissionKey,
		Score:            sub.Score,
		TimeTakenSeconds: sub.TimeTakenSeconds,
		CompletedAt:      sub.CompletedAt,
		IsOfflineReplay:  sub.IsOfflineReplay,
	}
	f.attempts = append(f.attempts, a)
	res := model.ExamResult{
		ExamID:           sub.ExamID,
		StudentID:        sub.StudentID,
		AttemptID:        a.ID,
		AttemptNumber:    len(f.attempts),
		Score:            sub.Score,
		TimeTakenSeconds: sub.TimeTakenSeconds,
		CompletedAt:      sub.CompletedAt,
	}
	f.previous = &res
	return res
}

func (f *fakeAPI) GetAttempts(context.Context, int, uuid.UUID) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attemptsCalls++
	return append([]model.Attempt(nil), f.attempts...), nil
}

func (f *fakeAPI) GetPreviousResult(context.Context, int, uuid.UUID) (*model.ExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.previous == nil {
		return nil, nil
	}
	res := *f.previous
	return &res, nil
}

func (f *fakeAPI) addAttempt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, model.Attempt{ID: uuid.New(), ExamID: f.exam.ID, StudentID: testStudent})
}

func (f *fakeAPI) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// gatedStore holds the next Set open until the test releases it.
type gatedStore struct {
	kvstore.Store
	mu      sync.Mutex
	hold    chan struct{}
	entered chan struct{}
}

// arm makes the next Set block. entered fires once that Set is in flight.
func (g *gatedStore) arm() (entered <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hold = make(chan struct{})
	g.entered = make(chan struct{}, 1)
	hold := g.hold
	return g.entered, func() { close(hold) }
}

func (g *gatedStore) Set(ctx context.Context, key string, v any) error {
	g.mu.Lock()
	hold, entered := g.hold, g.entered
	g.hold, g.entered = nil, nil
	g.mu.Unlock()
	if hold != nil {
		entered <- struct{}{}
		<-hold
	}
	return g.Store.Set(ctx, key, v)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	clock  *scheduler.FakeClock
	sched  *scheduler.ManualScheduler
	api    *fakeAPI
	store  *kvstore.MemoryStore
	queue  *offline.Queue
	events *recorder
	online atomic.Bool
	deps   Deps
}

func newHarness(t *testing.T, exam *model.ExamDefinition) *harness {
	t.Helper()
	h := &harness{
		clock:  scheduler.NewFakeClock(t0),
		api:    newFakeAPI(exam),
		store:  kvstore.NewMemoryStore(),
		events: &recorder{},
	}
	h.sched = scheduler.NewManualScheduler(h.clock)
	h.queue = offline.NewQueue(h.store, zerolog.Nop())
	h.online.Store(true)
	h.deps = Deps{
		API:       h.api,
		Store:     h.store,
		Queue:     h.queue,
		Scheduler: h.sched,
		Clock:     h.clock,
		Scorer: ScorerFunc(func(_ context.Context, _ *model.ExamDefinition, answers map[string]string) (float64, error) {
			return float64(len(answers)), nil
		}),
		Notifier:     h.events,
		Online:       h.online.Load,
		TickInterval: time.Second,
		Grace:        30 * time.Minute,
		Log:          zerolog.Nop(),
	}
	return h
}

func (h *harness) machine() *Machine {
	return NewMachine(context.Background(), h.api.exam.ID, testStudent, h.deps)
}

func ptr(t time.Time) *time.Time { return &t }

func practice(stream string, minutes int) *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              uuid.New(),
		Title:           stream + " practice",
		Stream:          stream,
		Availability:    model.AvailabilityPractice,
		DurationMinutes: minutes,
		Status:          model.ExamStatusPublished,
	}
}

func scheduled(stream string, start, end time.Time) *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:           uuid.New(),
		Title:        stream + " mock",
		Stream:       stream,
		Availability: model.AvailabilityScheduled,
		StartTime:    ptr(start),
		EndTime:      ptr(end),
		Status:       model.ExamStatusPublished,
	}
}

func mustOpenAndStart(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}
