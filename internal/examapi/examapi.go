// Package examapi is the contract between exam sessions and the server that owns
// eligibility, attempts and results.
package examapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	ErrIneligible       = errors.New("student is not eligible for this exam")
	ErrAlreadySubmitted = errors.New("submission already recorded")
	ErrMaxAttempts      = errors.New("maximum attempts reached")
	ErrExamNotFound     = errors.New("exam not found")
	ErrUnavailable      = errors.New("results store unavailable")
)

// Eligibility is the answer to an eligibility check. Exam is set whenever the exam
// exists, even for an ineligible student.
type Eligibility struct {
	Eligible bool
	Reason   string
	Exam     *model.ExamDefinition
}

// Submission is one completed attempt handed to the server.
type Submission struct {
	ExamID           uuid.UUID
	StudentID        int
	Answers          map[string]string
	Score            float64
	TimeTakenSeconds int
	CompletedAt      time.Time
	IsOfflineReplay  bool
	// SubmissionKey identifies the attempt so a replay of the same submission is
	// recognised as a duplicate.
	SubmissionKey int64
}

// Client is the server surface the session engine consumes. Implementations must
// make SubmitResult safe to retry for the same SubmissionKey: the second call
// returns ErrAlreadySubmitted.
type Client interface {
	CheckEligibility(ctx context.Context, examID uuid.UUID, studentID int) (*Eligibility, error)
	SubmitResult(ctx context.Context, sub Submission) (*model.ExamResult, error)
	GetAttempts(ctx context.Context, studentID int, examID uuid.UUID) ([]model.Attempt, error)
	// GetPreviousResult returns nil without error when the student has no result.
	GetPreviousResult(ctx context.Context, studentID int, examID uuid.UUID) (*model.ExamResult, error)
}

// IsTransient reports whether err is worth retrying later rather than surfacing as
// a final refusal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIneligible) || errors.Is(err, ErrAlreadySubmitted) ||
		errors.Is(err, ErrMaxAttempts) || errors.Is(err, ErrExamNotFound) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

// retryableSQLState reports server errors that clear up on their own: lost
// connections, lock conflicts and a server going down or not yet accepting.
func retryableSQLState(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"53300", // too_many_connections
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03": // cannot_connect_now
		return true
	}
	return false
}

// FromQueued converts a queued offline submission into a replay.
func FromQueued(q model.QueuedSubmission) Submission {
	completed, err := time.Parse(time.RFC3339Nano, q.CompletedAt)
	if err != nil {
		completed = time.UnixMilli(q.EnqueuedAtMillis).UTC()
	}
	return Submission{
		ExamID:           q.ExamID,
		StudentID:        q.StudentID,
		Answers:          q.Answers,
		Score:            q.Score,
		TimeTakenSeconds: q.TimeTakenSeconds,
		CompletedAt:      completed,
		IsOfflineReplay:  true,
		SubmissionKey:    q.EnqueuedAtMillis,
	}
}
