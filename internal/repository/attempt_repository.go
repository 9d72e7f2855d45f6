package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	// ErrDuplicateSubmission means an attempt with the same submission key exists.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrAttemptLimit means the student has used every allowed attempt.
	ErrAttemptLimit = errors.New("attempt limit reached")
	// ErrNotEnrolled means the student is not enrolled in the exam.
	ErrNotEnrolled = errors.New("student not enrolled")
)

const attemptColumns = `id, exam_id, student_id, submission_key, answers, score,
	        time_taken_seconds, completed_at, is_offline_replay, created_at`

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.SubmissionKey, &a.Answers, &a.Score,
		&a.TimeTakenSeconds, &a.CompletedAt, &a.IsOfflineReplay, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByStudent returns a student's attempts at an exam, oldest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY completed_at ASC, created_at ASC`, examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// Latest returns the most recent attempt and its 1-based number, or ErrNotFound.
func (r *AttemptRepository) Latest(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, int, error) {
	var number int
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`, COUNT(*) OVER ()
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY completed_at DESC, created_at DESC
		 LIMIT 1`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.SubmissionKey, &a.Answers, &a.Score,
		&a.TimeTakenSeconds, &a.CompletedAt, &a.IsOfflineReplay, &a.CreatedAt, &number)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return a, number, nil
}

// Record inserts an attempt inside a transaction that serialises submissions of
// the same student for the same exam. It returns the attempt's 1-based number.
func (r *AttemptRepository) Record(ctx context.Context, a *model.Attempt, maxAttempts int) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock on the enrollment serialises concurrent submissions.
	var locked int
	err = tx.QueryRow(ctx,
		`SELECT student_id FROM exam_enrollments
		 WHERE exam_id = $1 AND student_id = $2
		 FOR UPDATE`, a.ExamID, a.StudentID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotEnrolled
	}
	if err != nil {
		return 0, fmt.Errorf("lock enrollment: %w", err)
	}

	var dup bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exam_attempts
		   WHERE exam_id = $1 AND student_id = $2 AND submission_key = $3
		 )`, a.ExamID, a.StudentID, a.SubmissionKey,
	).Scan(&dup); err != nil {
		return 0, fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		return 0, ErrDuplicateSubmission
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		a.ExamID, a.StudentID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	if count >= maxAttempts {
		return 0, ErrAttemptLimit
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, submission_key, answers, score,
		                            time_taken_seconds, completed_at, is_offline_replay)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		a.ExamID, a.StudentID, a.SubmissionKey, a.Answers, a.Score,
		a.TimeTakenSeconds, a.CompletedAt, a.IsOfflineReplay,
	).Scan(&a.ID, &a.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count + 1, nil
}
