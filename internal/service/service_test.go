package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scheduler"
)

type fakeExamStore struct {
	exams   map[uuid.UUID]*model.ExamDefinition
	keys    map[uuid.UUID]map[string]string
	getHits int
	keyHits int
	err     error
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	f.getHits++
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) ListPublished(context.Context) ([]model.ExamDefinition, error) {
	var out []model.ExamDefinition
	for _, e := range f.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) AnswerKey(_ context.Context, id uuid.UUID) (map[string]string, error) {
	f.keyHits++
	return f.keys[id], nil
}

type fakeAttemptStore struct {
	attempts []model.Attempt
	keys     map[int64]bool
	err      error
}

func (f *fakeAttemptStore) ListByStudent(context.Context, int, uuid.UUID) ([]model.Attempt, error) {
	return f.attempts, f.err
}

func (f *fakeAttemptStore) Latest(context.Context, int, uuid.UUID) (*model.Attempt, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if len(f.attempts) == 0 {
		return nil, 0, repository.ErrNotFound
	}
	a := f.attempts[len(f.attempts)-1]
	return &a, len(f.attempts), nil
}

func (f *fakeAttemptStore) Record(_ context.Context, a *model.Attempt, maxAttempts int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.keys[a.SubmissionKey] {
		return 0, repository.ErrDuplicateSubmission
	}
	if len(f.attempts) >= maxAttempts {
		return 0, repository.ErrAttemptLimit
	}
	f.keys[a.SubmissionKey] = true
	a.ID = uuid.New()
	f.attempts = append(f.attempts, *a)
	return len(f.attempts), nil
}

type enrolled bool

func (e enrolled) IsEnrolled(context.Context, uuid.UUID, int) (bool, error) { return bool(e), nil }

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func publishedExam() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:                 uuid.New(),
		Title:              "MHT-CET Mock 1",
		Stream:             "MHT-CET",
		Availability:       model.AvailabilityPractice,
		TotalMarks:         200,
		Reattempt:          2,
		MarkingRulePreview: json.RawMessage(`{"positive":2,"negative":0.5}`),
		Status:             model.ExamStatusPublished,
	}
}

func TestGetDefinitionReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	exam := publishedExam()
	store := &fakeExamStore{exams: map[uuid.UUID]*model.ExamDefinition{exam.ID: exam}}
	svc := NewExamService(store, rdb, zerolog.Nop())

	for i := 0; i < 3; i++ {
		got, err := svc.GetDefinition(ctx, exam.ID)
		if err != nil {
			t.Fatalf("get definition: %v", err)
		}
		if got.Stream != "MHT-CET" || got.Marking().Positive != 2 {
			t.Fatalf("unexpected definition: %+v", got)
		}
	}
	if store.getHits != 1 {
		t.Fatalf("database hits = %d, want 1", store.getHits)
	}
	if ttl := mr.TTL(config.CacheKey.ExamDefinitionKey(exam.ID.String())); ttl != ExamDefinitionTTL {
		t.Fatalf("ttl = %v, want %v", ttl, ExamDefinitionTTL)
	}
}

func TestScoreUsesWarmedAnswerKey(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	exam := publishedExam()
	store := &fakeExamStore{
		exams: map[uuid.UUID]*model.ExamDefinition{exam.ID: exam},
		keys:  map[uuid.UUID]map[string]string{exam.ID: {"q1": "A", "q2": "B", "q3": "C"}},
	}
	svc := NewExamService(store, rdb, zerolog.Nop())

	if err := svc.PrewarmAllCaches(ctx); err != nil {
		t.Fatalf("prewarm: %v", err)
	}
	hits := store.keyHits

	score, err := svc.Score(ctx, exam, map[string]string{"q1": "A", "q2": "C"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 1.5 {
		t.Fatalf("score = %v, want 1.5", score)
	}
	if store.keyHits != hits {
		t.Fatalf("answer key read from database despite warm cache")
	}
}

func TestWarmWithoutQuestions(t *testing.T) {
	_, rdb := newTestRedis(t)
	exam := publishedExam()
	svc := NewExamService(&fakeExamStore{keys: map[uuid.UUID]map[string]string{}}, rdb, zerolog.Nop())
	if err := svc.WarmExamCache(context.Background(), exam); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestGatewaySubmitMapsErrors(t *testing.T) {
	ctx := context.Background()
	exam := publishedExam()
	exams := NewExamService(&fakeExamStore{exams: map[uuid.UUID]*model.ExamDefinition{exam.ID: exam}}, nil, zerolog.Nop())
	attempts := &fakeAttemptStore{keys: map[int64]bool{}}
	gw := NewExamSessionService(exams, attempts, enrolled(true), zerolog.Nop())

	sub := examapi.Submission{
		ExamID:        exam.ID,
		StudentID:     5,
		Answers:       map[string]string{"q1": "A"},
		Score:         2,
		CompletedAt:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		SubmissionKey: 1000,
	}
	res, err := gw.SubmitResult(ctx, sub)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if res.AttemptNumber != 1 || res.TotalMarks != 200 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := gw.SubmitResult(ctx, sub); !errors.Is(err, examapi.ErrAlreadySubmitted) {
		t.Fatalf("replay: expected ErrAlreadySubmitted, got %v", err)
	}

	sub.SubmissionKey = 2000
	if _, err := gw.SubmitResult(ctx, sub); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	sub.SubmissionKey = 3000
	if _, err := gw.SubmitResult(ctx, sub); !errors.Is(err, examapi.ErrMaxAttempts) {
		t.Fatalf("third attempt: expected ErrMaxAttempts, got %v", err)
	}

	prev, err := gw.GetPreviousResult(ctx, 5, exam.ID)
	if err != nil || prev == nil || prev.AttemptNumber != 2 {
		t.Fatalf("previous result: %+v err=%v", prev, err)
	}
}

func TestGatewayTransientErrorsAreUnavailable(t *testing.T) {
	ctx := context.Background()
	exam := publishedExam()
	exams := NewExamService(&fakeExamStore{exams: map[uuid.UUID]*model.ExamDefinition{exam.ID: exam}}, nil, zerolog.Nop())
	attempts := &fakeAttemptStore{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	gw := NewExamSessionService(exams, attempts, enrolled(true), zerolog.Nop())

	_, err := gw.GetAttempts(ctx, 5, exam.ID)
	if !errors.Is(err, examapi.ErrUnavailable) || !examapi.IsTransient(err) {
		t.Fatalf("expected transient unavailable error, got %v", err)
	}
}

func TestGatewayEligibility(t *testing.T) {
	ctx := context.Background()
	exam := publishedExam()
	draft := publishedExam()
	draft.Status = model.ExamStatusDraft
	exams := NewExamService(&fakeExamStore{exams: map[uuid.UUID]*model.ExamDefinition{
		exam.ID: exam, draft.ID: draft,
	}}, nil, zerolog.Nop())

	cases := []struct {
		name     string
		examID   uuid.UUID
		enrolled bool
		eligible bool
		err      error
	}{
		{"enrolled in published", exam.ID, true, true, nil},
		{"not enrolled", exam.ID, false, false, nil},
		{"draft exam", draft.ID, true, false, nil},
		{"missing exam", uuid.New(), true, false, examapi.ErrExamNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := NewExamSessionService(exams, &fakeAttemptStore{}, enrolled(tc.enrolled), zerolog.Nop())
			got, err := gw.CheckEligibility(ctx, tc.examID, 1)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("eligibility: %v", err)
			}
			if got.Eligible != tc.eligible || got.Exam == nil {
				t.Fatalf("unexpected eligibility: %+v", got)
			}
		})
	}
}

func TestTimingView(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	exam := publishedExam()
	exams := NewExamService(&fakeExamStore{exams: map[uuid.UUID]*model.ExamDefinition{exam.ID: exam}}, nil, zerolog.Nop())
	clock := scheduler.NewFakeClock(start.Add(30 * time.Minute))
	svc := NewTimingService(exams, clock, 8)

	v, err := svc.View(context.Background(), exam.ID, &start)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.DurationMinutes != 180 || v.SecondsRemaining != 150*60 {
		t.Fatalf("unexpected timing: %+v", v)
	}
	if v.Unlocks.AllUnlocked || !v.Unlocks.Subjects["Biology"].IsLocked {
		t.Fatalf("Biology should be locked 30 minutes in: %+v", v.Unlocks)
	}
	if got := v.Unlocks.Subjects["Maths"].RemainingUnlockMillis; got != (60 * time.Minute).Milliseconds() {
		t.Fatalf("remaining unlock = %d", got)
	}
}
