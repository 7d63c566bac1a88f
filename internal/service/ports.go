package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// Absence is reported with pgx.ErrNoRows by every store, matching the
// repository package.

// ExamDefinitionStore is the read-only source of exam definitions.
type ExamDefinitionStore interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// sourcedStore is implemented by caches in front of an ExamDefinitionStore.
// The sweeper reads through the source: an exam deleted while still cached
// must be treated as orphaned.
type sourcedStore interface {
	Source() ExamDefinitionStore
}

// ProgressStore is the progress ledger.
type ProgressStore interface {
	Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.ProgressRecord, error)
	// Upsert must not overwrite a paused row; it returns pgx.ErrNoRows instead.
	Upsert(ctx context.Context, p *model.ProgressRecord) error
	Pause(ctx context.Context, examID uuid.UUID, studentID int, reason string, pausedAt, resumeUntil time.Time) (*model.ProgressRecord, error)
	Resume(ctx context.Context, examID uuid.UUID, studentID int, now time.Time) (*model.ProgressRecord, error)
	Delete(ctx context.Context, examID uuid.UUID, studentID int) error
	ListAbandoned(ctx context.Context, cutoff, now time.Time, limit int) ([]model.ProgressRecord, error)
}

// SubmissionStore is the append-once submission ledger.
type SubmissionStore interface {
	Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmissionRecord, error)
	// Finalize atomically inserts s unless the pair already has a submission,
	// and removes the pair's progress row. With a guard, a progress row that no
	// longer matches it rolls everything back and yields pgx.ErrNoRows.
	Finalize(ctx context.Context, s *model.SubmissionRecord, guard *model.CloseGuard) (*model.SubmissionRecord, bool, error)
}

// EventPublisher fans session events out to exam monitors.
type EventPublisher interface {
	Publish(ctx context.Context, examID uuid.UUID, event MonitorEvent) error
}

// Clock abstracts time for the session rules.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
