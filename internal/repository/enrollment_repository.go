package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnrollmentRepository handles exam enrollment data access.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// IsEnrolled reports whether the student may sit the exam.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exam_enrollments WHERE exam_id = $1 AND student_id = $2
		 )`, examID, studentID,
	).Scan(&ok)
	return ok, err
}

// Enroll adds students to an exam. Existing enrollments are left untouched.
func (r *EnrollmentRepository) Enroll(ctx context.Context, examID uuid.UUID, studentIDs ...int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_enrollments (exam_id, student_id)
		 SELECT $1, unnest($2::int[])
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		examID, studentIDs,
	)
	return err
}
