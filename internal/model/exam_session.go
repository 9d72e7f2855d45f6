package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates the student-facing exam session states.
type SessionState string

const (
	StateHome          SessionState = "home"
	StateInstructions  SessionState = "instructions"
	StateInProgress    SessionState = "in_progress"
	StateResult        SessionState = "result"
	StateAttemptDetail SessionState = "attempt_detail"
)

// ProgressSnapshot is the persisted state of an exam in progress. It anchors the
// student's countdown across restarts and reloads.
type ProgressSnapshot struct {
	ExamID         uuid.UUID         `json:"exam_id"`
	StudentID      int               `json:"student_id"`
	EffectiveStart time.Time         `json:"effective_start"`
	Answers        map[string]string `json:"answers"`
	SavedAt        time.Time         `json:"saved_at"`
}

// QueuedSubmission is a completed exam waiting to be replayed against the server.
// Its identity is (ExamID, EnqueuedAtMillis).
type QueuedSubmission struct {
	ExamID           uuid.UUID         `json:"exam_id"`
	StudentID        int               `json:"student_id"`
	Answers          map[string]string `json:"answers"`
	Score            float64           `json:"score"`
	TimeTakenSeconds int               `json:"time_taken_seconds"`
	CompletedAt      string            `json:"completed_at"`
	EnqueuedAtMillis int64             `json:"enqueued_at_millis"`
}

// SameIdentity reports whether two queued submissions are the same replay unit.
func (q QueuedSubmission) SameIdentity(o QueuedSubmission) bool {
	return q.ExamID == o.ExamID && q.EnqueuedAtMillis == o.EnqueuedAtMillis
}

// Attempt is one server-recorded exam attempt.
type Attempt struct {
	ID               uuid.UUID         `json:"id"`
	ExamID           uuid.UUID         `json:"exam_id"`
	StudentID        int               `json:"student_id"`
	SubmissionKey    int64             `json:"submission_key"`
	Answers          map[string]string `json:"answers,omitempty"`
	Score            float64           `json:"score"`
	TimeTakenSeconds int               `json:"time_taken_seconds"`
	CompletedAt      time.Time         `json:"completed_at"`
	IsOfflineReplay  bool              `json:"is_offline_replay"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ExamResult is the result summary of a student's latest attempt.
type ExamResult struct {
	ExamID           uuid.UUID `json:"exam_id"`
	StudentID        int       `json:"student_id"`
	AttemptID        uuid.UUID `json:"attempt_id"`
	AttemptNumber    int       `json:"attempt_number"`
	Score            float64   `json:"score"`
	TotalMarks       int       `json:"total_marks"`
	TimeTakenSeconds int       `json:"time_taken_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// SaveAnswerRequest is the payload for saving one answer.
type SaveAnswerRequest struct {
	QuestionID string `json:"q_id" binding:"required,min=1,max=64"`
	Answer     string `json:"ans" binding:"max=255,answer"`
}
