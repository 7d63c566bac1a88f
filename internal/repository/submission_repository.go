package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const submissionColumns = `id, exam_id, student_id, answers, score, total_questions, trigger_source, late, submitted_at`

// SubmissionRepository handles the append-once exam_submissions ledger.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Get retrieves the submission for a pair. Returns pgx.ErrNoRows if absent.
func (r *SubmissionRepository) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmissionRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM exam_submissions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID)
	return scanSubmission(row)
}

// Finalize inserts the submission unless one already exists for the pair and
// deletes the pair's progress row, in one transaction. It returns the stored
// submission (the pre-existing one when the insert lost) and whether this call
// created it.
//
// With a guard the progress delete only matches the row the caller inspected;
// when it matches nothing the transaction is rolled back and pgx.ErrNoRows is
// returned.
func (r *SubmissionRepository) Finalize(ctx context.Context, s *model.SubmissionRecord, guard *model.CloseGuard) (*model.SubmissionRecord, bool, error) {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return nil, false, fmt.Errorf("encode answers: %w", err)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	created := true
	stored, err := scanSubmission(tx.QueryRow(ctx,
		`INSERT INTO exam_submissions (id, exam_id, student_id, answers, score, total_questions, trigger_source, late, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING `+submissionColumns,
		s.ID, s.ExamID, s.StudentID, answers, s.Score, s.TotalQuestions, s.Trigger, s.Late, s.SubmittedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Another path graded this pair first.
		created = false
		stored, err = scanSubmission(tx.QueryRow(ctx,
			`SELECT `+submissionColumns+`
			 FROM exam_submissions
			 WHERE exam_id = $1 AND student_id = $2`, s.ExamID, s.StudentID))
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert submission: %w", err)
	}

	if guard == nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM exam_progress WHERE exam_id = $1 AND student_id = $2`,
			s.ExamID, s.StudentID); err != nil {
			return nil, false, fmt.Errorf("clear progress: %w", err)
		}
	} else {
		// A heartbeat holding the row lock makes this wait, then re-check
		// against the updated row.
		tag, err := tx.Exec(ctx,
			`DELETE FROM exam_progress
			 WHERE exam_id = $1 AND student_id = $2 AND updated_at = $3
			   AND (NOT is_paused OR resume_allowed_until < $4)`,
			s.ExamID, s.StudentID, guard.UpdatedAt, guard.Now)
		if err != nil {
			return nil, false, fmt.Errorf("clear progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, false, pgx.ErrNoRows
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit finalize: %w", err)
	}
	return stored, created, nil
}

func scanSubmission(row pgx.Row) (*model.SubmissionRecord, error) {
	var (
		s       model.SubmissionRecord
		answers []byte
	)
	if err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &answers, &s.Score, &s.TotalQuestions,
		&s.Trigger, &s.Late, &s.SubmittedAt); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &s, nil
}
