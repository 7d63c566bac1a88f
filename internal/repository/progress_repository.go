package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const progressColumns = `exam_id, student_id, answers, time_left, is_paused, pause_reason,
	paused_at, resume_allowed_until, created_at, updated_at`

// ProgressRepository handles the exam_progress ledger: one mutable row per
// (exam, student) pair while a session is open.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// Get retrieves the progress row for a pair. Returns pgx.ErrNoRows if absent.
func (r *ProgressRepository) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.ProgressRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+`
		 FROM exam_progress
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID)
	return scanProgress(row)
}

// Upsert writes answers and time left, clearing any pause state.
// A paused row is never overwritten: in that case pgx.ErrNoRows is returned.
func (r *ProgressRepository) Upsert(ctx context.Context, p *model.ProgressRecord) error {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_progress (exam_id, student_id, answers, time_left, is_paused, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET answers = EXCLUDED.answers,
		     time_left = EXCLUDED.time_left,
		     is_paused = FALSE,
		     pause_reason = NULL,
		     paused_at = NULL,
		     resume_allowed_until = NULL,
		     updated_at = EXCLUDED.updated_at
		 WHERE exam_progress.is_paused = FALSE
		 RETURNING created_at`,
		p.ExamID, p.StudentID, answers, p.TimeLeft, p.UpdatedAt,
	).Scan(&p.CreatedAt)
}

// Pause marks an unpaused row as paused. Returns pgx.ErrNoRows if the row is
// missing or already paused.
func (r *ProgressRepository) Pause(ctx context.Context, examID uuid.UUID, studentID int, reason string, pausedAt, resumeUntil time.Time) (*model.ProgressRecord, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE exam_progress
		 SET is_paused = TRUE,
		     pause_reason = NULLIF($3, ''),
		     paused_at = $4,
		     resume_allowed_until = $5
		 WHERE exam_id = $1 AND student_id = $2 AND is_paused = FALSE
		 RETURNING `+progressColumns,
		examID, studentID, reason, pausedAt, resumeUntil)
	return scanProgress(row)
}

// Resume clears the pause on a row still inside its resume window.
// Returns pgx.ErrNoRows if the row is missing, not paused, or expired.
func (r *ProgressRepository) Resume(ctx context.Context, examID uuid.UUID, studentID int, now time.Time) (*model.ProgressRecord, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE exam_progress
		 SET is_paused = FALSE,
		     pause_reason = NULL,
		     paused_at = NULL,
		     resume_allowed_until = NULL,
		     updated_at = $3
		 WHERE exam_id = $1 AND student_id = $2
		   AND is_paused = TRUE AND resume_allowed_until >= $3
		 RETURNING `+progressColumns,
		examID, studentID, now)
	return scanProgress(row)
}

// Delete removes the progress row. Deleting a missing row is not an error.
func (r *ProgressRepository) Delete(ctx context.Context, examID uuid.UUID, studentID int) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM exam_progress WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID)
	return err
}

// ListAbandoned selects rows silent since before cutoff that are not inside an
// open pause window, oldest first.
func (r *ProgressRepository) ListAbandoned(ctx context.Context, cutoff, now time.Time, limit int) ([]model.ProgressRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+progressColumns+`
		 FROM exam_progress
		 WHERE updated_at < $1
		   AND (is_paused = FALSE OR resume_allowed_until < $2)
		 ORDER BY updated_at
		 LIMIT $3`, cutoff, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *p)
	}
	return records, rows.Err()
}

func scanProgress(row pgx.Row) (*model.ProgressRecord, error) {
	var (
		p       model.ProgressRecord
		answers []byte
		reason  *string
	)
	if err := row.Scan(&p.ExamID, &p.StudentID, &answers, &p.TimeLeft, &p.IsPaused, &reason,
		&p.PausedAt, &p.ResumeAllowedUntil, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &p.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if reason != nil {
		p.PauseReason = *reason
	}
	return &p, nil
}
