package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// AttemptStore is the attempt persistence the gateway needs.
type AttemptStore interface {
	ListByStudent(ctx context.Context, studentID int, examID uuid.UUID) ([]model.Attempt, error)
	Latest(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, int, error)
	Record(ctx context.Context, a *model.Attempt, maxAttempts int) (int, error)
}

// EnrollmentStore answers enrollment questions.
type EnrollmentStore interface {
	IsEnrolled(ctx context.Context, examID uuid.UUID, studentID int) (bool, error)
}

// ExamSessionService is the server side of the session contract, backed by
// PostgreSQL. Connection failures surface as examapi.ErrUnavailable.
type ExamSessionService struct {
	exams       *ExamService
	attempts    AttemptStore
	enrollments EnrollmentStore
	log         zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(exams *ExamService, attempts AttemptStore, enrollments EnrollmentStore, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		exams:       exams,
		attempts:    attempts,
		enrollments: enrollments,
		log:         log.With().Str("component", "exam_gateway").Logger(),
	}
}

var _ examapi.Client = (*ExamSessionService)(nil)

// CheckEligibility requires a published exam and an enrollment.
func (s *ExamSessionService) CheckEligibility(ctx context.Context, examID uuid.UUID, studentID int) (*examapi.Eligibility, error) {
	exam, err := s.definition(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return &examapi.Eligibility{Exam: exam, Reason: "exam is not published"}, nil
	}

	ok, err := s.enrollments.IsEnrolled(ctx, examID, studentID)
	if err != nil {
		return nil, unavailable("check enrollment", err)
	}
	if !ok {
		return &examapi.Eligibility{Exam: exam, Reason: "student is not enrolled"}, nil
	}
	return &examapi.Eligibility{Eligible: true, Exam: exam}, nil
}

// SubmitResult records an attempt. Replays of the same submission key return
// examapi.ErrAlreadySubmitted.
func (s *ExamSessionService) SubmitResult(ctx context.Context, sub examapi.Submission) (*model.ExamResult, error) {
	exam, err := s.definition(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}

	a := &model.Attempt{
		ExamID:           sub.ExamID,
		StudentID:        sub.StudentID,
		SubmissionKey:    sub.SubmissionKey,
		Answers:          sub.Answers,
		Score:            sub.Score,
		TimeTakenSeconds: sub.TimeTakenSeconds,
		CompletedAt:      sub.CompletedAt,
		IsOfflineReplay:  sub.IsOfflineReplay,
	}
	if a.Answers == nil {
		a.Answers = map[string]string{}
	}

	number, err := s.attempts.Record(ctx, a, exam.MaxAttempts())
	switch {
	case errors.Is(err, repository.ErrDuplicateSubmission):
		return nil, examapi.ErrAlreadySubmitted
	case errors.Is(err, repository.ErrAttemptLimit):
		return nil, examapi.ErrMaxAttempts
	case errors.Is(err, repository.ErrNotEnrolled):
		return nil, examapi.ErrIneligible
	case err != nil:
		return nil, unavailable("record attempt", err)
	}

	s.log.Info().
		Str("exam_id", sub.ExamID.String()).
		Int("student_id", sub.StudentID).
		Int("attempt", number).
		Bool("offline_replay", sub.IsOfflineReplay).
		Float64("score", sub.Score).
		Msg("Attempt recorded")

	return resultOf(a, number, exam.TotalMarks), nil
}

// GetAttempts lists a student's attempts, oldest first.
func (s *ExamSessionService) GetAttempts(ctx context.Context, studentID int, examID uuid.UUID) ([]model.Attempt, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID, examID)
	if err != nil {
		return nil, unavailable("list attempts", err)
	}
	return attempts, nil
}

// GetPreviousResult returns the latest result, or nil if there is none.
func (s *ExamSessionService) GetPreviousResult(ctx context.Context, studentID int, examID uuid.UUID) (*model.ExamResult, error) {
	a, number, err := s.attempts.Latest(ctx, studentID, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("latest attempt", err)
	}
	total := 0
	if exam, err := s.exams.GetDefinition(ctx, examID); err == nil {
		total = exam.TotalMarks
	}
	return resultOf(a, number, total), nil
}

func (s *ExamSessionService) definition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	exam, err := s.exams.GetDefinition(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, examapi.ErrExamNotFound
	}
	if err != nil {
		return nil, unavailable("get exam", err)
	}
	return exam, nil
}

func resultOf(a *model.Attempt, number, totalMarks int) *model.ExamResult {
	return &model.ExamResult{
		ExamID:           a.ExamID,
		StudentID:        a.StudentID,
		AttemptID:        a.ID,
		AttemptNumber:    number,
		Score:            a.Score,
		TotalMarks:       totalMarks,
		TimeTakenSeconds: a.TimeTakenSeconds,
		CompletedAt:      a.CompletedAt,
	}
}

// unavailable tags store failures that are worth retrying.
func unavailable(op string, err error) error {
	if examapi.IsTransient(err) {
		return fmt.Errorf("%s: %w: %v", op, examapi.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
