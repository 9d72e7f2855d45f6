package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scheduler"
	"github.com/stemsi/exstem-engine/internal/timing"
)

// TimingView is the stateless timing answer for one exam at one instant.
type TimingView struct {
	ExamID           uuid.UUID             `json:"exam_id"`
	Stream           string                `json:"stream"`
	Availability     string                `json:"exam_availability"`
	DurationMinutes  int                   `json:"duration_minutes"`
	DurationSource   timing.DurationSource `json:"duration_source"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	SecondsRemaining int                   `json:"seconds_remaining"`
	Unlocks          model.UnlockSchedule  `json:"unlocks"`
	At               time.Time             `json:"at"`
}

// TimingService answers timing questions without touching session state.
type TimingService struct {
	exams   *ExamService
	clock   scheduler.Clock
	unlocks *timing.UnlockCache
}

// NewTimingService creates a new TimingService.
func NewTimingService(exams *ExamService, clock scheduler.Clock, cacheSize int) *TimingService {
	return &TimingService{exams: exams, clock: clock, unlocks: timing.NewUnlockCache(cacheSize)}
}

// View computes duration, remaining time and subject locks for a student who
// started at startedAt. A nil startedAt means "starting now".
func (s *TimingService) View(ctx context.Context, examID uuid.UUID, startedAt *time.Time) (*TimingView, error) {
	exam, err := s.exams.GetDefinition(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, examapi.ErrExamNotFound
	}
	if err != nil {
		return nil, unavailable("get exam", err)
	}
	return s.compute(exam, startedAt, s.clock.Now()), nil
}

func (s *TimingService) compute(exam *model.ExamDefinition, startedAt *time.Time, now time.Time) *TimingView {
	start := now
	if startedAt != nil {
		start = *startedAt
	}
	d := timing.ResolveDuration(exam)
	return &TimingView{
		ExamID:           exam.ID,
		Stream:           d.Stream,
		Availability:     string(exam.Availability),
		DurationMinutes:  d.Minutes,
		DurationSource:   d.Source,
		StartedAt:        startedAt,
		SecondsRemaining: timing.SecondsRemaining(exam, start, now),
		Unlocks:          s.unlocks.Compute(exam, start, now),
		At:               now,
	}
}
