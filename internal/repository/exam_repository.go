package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const examColumns = `id, title, stream, availability, duration_minutes, start_time, end_time,
	        subjects, total_marks, reattempt, marking_rule, status`

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row pgx.Row) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	var duration *int
	var marking []byte
	if err := row.Scan(&e.ID, &e.Title, &e.Stream, &e.Availability, &duration, &e.StartTime, &e.EndTime,
		&e.Subjects, &e.TotalMarks, &e.Reattempt, &marking, &e.Status); err != nil {
		return nil, err
	}
	if duration != nil {
		e.DurationMinutes = *duration
	}
	if len(marking) > 0 {
		e.MarkingRulePreview = json.RawMessage(marking)
	}
	return e, nil
}

// GetByID retrieves an exam definition by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e, err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.ExamDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status = $1 ORDER BY created_at DESC`,
		model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.ExamDefinition
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam. A zero ID lets the database assign one.
func (r *ExamRepository) Create(ctx context.Context, e *model.ExamDefinition) error {
	var duration *int
	if e.DurationMinutes > 0 {
		duration = &e.DurationMinutes
	}
	var marking []byte
	if len(e.MarkingRulePreview) > 0 {
		marking = e.MarkingRulePreview
	}
	id := &e.ID
	if e.ID == uuid.Nil {
		id = nil
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (id, title, stream, availability, duration_minutes, start_time, end_time,
		                    subjects, total_marks, reattempt, marking_rule, status)
		 VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		id, e.Title, e.Stream, e.Availability, duration, e.StartTime, e.EndTime,
		e.Subjects, e.TotalMarks, e.Reattempt, marking, e.Status,
	).Scan(&e.ID)
}

// AnswerKey returns question key → correct answer for an exam.
func (r *ExamRepository) AnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_key, correct_answer FROM exam_questions WHERE exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[string]string)
	for rows.Next() {
		var qid, answer string
		if err := rows.Scan(&qid, &answer); err != nil {
			return nil, err
		}
		key[qid] = answer
	}
	return key, rows.Err()
}

// ReplaceQuestions overwrites an exam's answer key.
func (r *ExamRepository) ReplaceQuestions(ctx context.Context, examID uuid.UUID, questions []model.ExamQuestion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range questions {
		batch.Queue(
			`INSERT INTO exam_questions (exam_id, question_key, subject, correct_answer, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			examID, q.QuestionKey, q.Subject, q.CorrectAnswer, i+1)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return tx.Commit(ctx)
}
