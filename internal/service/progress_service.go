package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/grading"
	"github.com/stemsi/exstem-session/internal/model"
)

// CloseOutcome describes what closing an abandoned session did.
type CloseOutcome string

const (
	OutcomeGraded        CloseOutcome = "graded"
	OutcomeStaleRemoved  CloseOutcome = "stale_removed"
	OutcomeOrphanRemoved CloseOutcome = "orphan_removed"
	// OutcomeSkipped means the session changed after it was listed and is
	// no longer abandoned.
	OutcomeSkipped CloseOutcome = "skipped"
)

// ProgressService owns the exam session lifecycle: progress heartbeats,
// pause/resume, and the single grading path used by both explicit
// submissions and the auto-submit sweeper.
type ProgressService struct {
	exams        ExamDefinitionStore
	sweepExams   ExamDefinitionStore
	progress     ProgressStore
	submissions  SubmissionStore
	events       EventPublisher
	clock        Clock
	resumeWindow time.Duration
	log          zerolog.Logger
}

// NewProgressService creates a new ProgressService. events may be nil.
func NewProgressService(
	exams ExamDefinitionStore,
	progress ProgressStore,
	submissions SubmissionStore,
	events EventPublisher,
	clock Clock,
	cfg config.SessionConfig,
	log zerolog.Logger,
) *ProgressService {
	if clock == nil {
		clock = SystemClock{}
	}
	sweepExams := exams
	if cached, ok := exams.(sourcedStore); ok {
		sweepExams = cached.Source()
	}
	return &ProgressService{
		exams:        exams,
		sweepExams:   sweepExams,
		progress:     progress,
		submissions:  submissions,
		events:       events,
		clock:        clock,
		resumeWindow: cfg.ResumeWindow,
		log:          log.With().Str("component", "progress_service").Logger(),
	}
}

// GetProgress returns the student's current session state for an exam.
func (s *ProgressService) GetProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.ProgressView, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	sub, err := s.findSubmission(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		// Any progress left behind is stale once graded.
		if err := s.progress.Delete(ctx, examID, studentID); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Int("student_id", studentID).
				Msg("Failed to drop stale progress")
		}
		return &model.ProgressView{State: model.SessionStateSubmitted, Submission: sub}, nil
	}

	now := s.clock.Now()
	rec, err := s.progress.Get(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		remaining := exam.RemainingAt(now, now).Seconds()
		return &model.ProgressView{State: model.SessionStateNone, ServerTimeLeft: &remaining}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	if rec.ResumeExpired(now) {
		return &model.ProgressView{
			State:              model.SessionStateExpired,
			IsPaused:           true,
			PausedAt:           rec.PausedAt,
			ResumeAllowedUntil: rec.ResumeAllowedUntil,
		}, nil
	}

	state := model.SessionStateInProgress
	if rec.IsPaused {
		state = model.SessionStatePaused
	}
	timeLeft := rec.TimeLeft
	remaining := exam.RemainingAt(rec.CreatedAt, now).Seconds()
	updatedAt := rec.UpdatedAt

	return &model.ProgressView{
		State:              state,
		Answers:            rec.Answers,
		TimeLeft:           &timeLeft,
		ServerTimeLeft:     &remaining,
		IsPaused:           rec.IsPaused,
		PausedAt:           rec.PausedAt,
		ResumeAllowedUntil: rec.ResumeAllowedUntil,
		UpdatedAt:          &updatedAt,
	}, nil
}

// SaveProgress is the client heartbeat: it normalizes and stores the answers
// and refreshes the liveness timestamp. Rejected while paused.
func (s *ProgressService) SaveProgress(ctx context.Context, examID uuid.UUID, studentID int, answers model.AnswerSheet, timeLeft int) error {
	if timeLeft < 0 {
		return ErrInvalidTimeLeft
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return err
	}

	sub, err := s.findSubmission(ctx, examID, studentID)
	if err != nil {
		return err
	}
	if sub != nil {
		return ErrAlreadySubmitted
	}

	existing, err := s.progress.Get(ctx, examID, studentID)
	switch {
	case err == nil && existing.IsPaused:
		return ErrProgressPaused
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("get progress: %w", err)
	}

	rec := &model.ProgressRecord{
		ExamID:    examID,
		StudentID: studentID,
		Answers:   grading.Normalize(answers, len(exam.Questions)),
		TimeLeft:  timeLeft,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.progress.Upsert(ctx, rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Paused between our read and the write.
			return ErrProgressPaused
		}
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// PauseProgress freezes the session and opens the resume window.
func (s *ProgressService) PauseProgress(ctx context.Context, examID uuid.UUID, studentID int, reason string) (*model.ProgressRecord, error) {
	if _, err := s.loadExam(ctx, examID); err != nil {
		return nil, err
	}

	rec, err := s.progress.Get(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if rec.IsPaused {
		return nil, ErrAlreadyPaused
	}

	now := s.clock.Now()
	paused, err := s.progress.Pause(ctx, examID, studentID, reason, now, now.Add(s.resumeWindow))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.reclassify(ctx, examID, studentID, ErrAlreadyPaused)
	}
	if err != nil {
		return nil, fmt.Errorf("pause progress: %w", err)
	}

	s.publish(ctx, examID, MonitorEvent{Type: EventProgressPaused, StudentID: studentID, Reason: reason, At: now})
	return paused, nil
}

// ResumeProgress lifts a pause still inside its window and hands back the
// preserved answers and time left. It never grades: an expired window is only
// reported, and the sweeper or a later submit closes the session.
func (s *ProgressService) ResumeProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.ResumeResult, error) {
	if _, err := s.loadExam(ctx, examID); err != nil {
		return nil, err
	}

	rec, err := s.progress.Get(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if !rec.IsPaused {
		return nil, ErrNotPaused
	}

	now := s.clock.Now()
	if rec.ResumeExpired(now) {
		return nil, ErrResumeExpired
	}

	resumed, err := s.progress.Resume(ctx, examID, studentID, now)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.reclassify(ctx, examID, studentID, ErrResumeExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("resume progress: %w", err)
	}

	s.publish(ctx, examID, MonitorEvent{Type: EventProgressResumed, StudentID: studentID, At: now})
	return &model.ResumeResult{Answers: resumed.Answers, TimeLeft: resumed.TimeLeft}, nil
}

// ClearProgress deletes the progress row. Idempotent.
func (s *ProgressService) ClearProgress(ctx context.Context, examID uuid.UUID, studentID int) error {
	if err := s.progress.Delete(ctx, examID, studentID); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// Submit grades and closes the session. It is idempotent per (exam, student):
// a second call returns the first result. When answers is nil the last saved
// progress is graded.
func (s *ProgressService) Submit(ctx context.Context, examID uuid.UUID, studentID int, answers *model.AnswerSheet, trigger model.SubmissionTrigger) (*model.SubmitResult, error) {
	if trigger == "" {
		trigger = model.TriggerClient
	}

	sub, err := s.findSubmission(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return &model.SubmitResult{Submission: sub, Created: false}, nil
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := exam.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExamNotGradable, err)
	}

	now := s.clock.Now()
	sessionStart := now
	sheet := model.AnswerSheet{}

	rec, err := s.progress.Get(ctx, examID, studentID)
	switch {
	case err == nil:
		sessionStart = rec.CreatedAt
		if answers == nil {
			sheet = model.SheetFromSlots(rec.Answers)
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if answers != nil {
		sheet = *answers
	}

	return s.finalize(ctx, examID, exam, studentID, sheet, sessionStart, trigger, nil)
}

// CloseAbandoned is the sweeper's grade-and-close for one stale progress row.
// The row is re-read first and graded as currently saved; a row that received
// a heartbeat or an open pause since it was listed is left alone.
func (s *ProgressService) CloseAbandoned(ctx context.Context, listed model.ProgressRecord) (CloseOutcome, error) {
	sub, err := s.findSubmission(ctx, listed.ExamID, listed.StudentID)
	if err != nil {
		return "", err
	}
	if sub != nil {
		if err := s.progress.Delete(ctx, listed.ExamID, listed.StudentID); err != nil {
			return "", fmt.Errorf("delete stale progress: %w", err)
		}
		return OutcomeStaleRemoved, nil
	}

	rec, err := s.progress.Get(ctx, listed.ExamID, listed.StudentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("get progress: %w", err)
	}
	guard := model.CloseGuard{UpdatedAt: listed.UpdatedAt, Now: s.clock.Now()}
	if !guard.Allows(rec) {
		return OutcomeSkipped, nil
	}

	exam, err := s.sweepExams.GetDefinition(ctx, rec.ExamID)
	if errors.Is(err, pgx.ErrNoRows) {
		s.log.Warn().Err(ErrOrphanProgress).
			Str("exam_id", rec.ExamID.String()).
			Int("student_id", rec.StudentID).
			Msg("Removing orphaned progress")
		if err := s.progress.Delete(ctx, rec.ExamID, rec.StudentID); err != nil {
			return "", fmt.Errorf("delete orphaned progress: %w", err)
		}
		return OutcomeOrphanRemoved, nil
	}
	if err != nil {
		return "", fmt.Errorf("get exam: %w", err)
	}

	// Graded even if the definition fails Validate: the sweeper must always
	// reach a terminal state.
	res, err := s.finalize(ctx, rec.ExamID, exam, rec.StudentID, model.SheetFromSlots(rec.Answers), rec.CreatedAt, model.TriggerSweeper, &guard)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if !res.Created {
		return OutcomeStaleRemoved, nil
	}
	s.publish(ctx, rec.ExamID, MonitorEvent{
		Type:      EventSessionSwept,
		StudentID: rec.StudentID,
		Score:     &res.Submission.Score,
		Trigger:   model.TriggerSweeper,
		At:        res.Submission.SubmittedAt,
	})
	return OutcomeGraded, nil
}

// GetResult returns the stored submission for a pair.
func (s *ProgressService) GetResult(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmissionRecord, error) {
	sub, err := s.findSubmission(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrResultNotFound
	}
	return sub, nil
}

// ListAbandoned exposes the sweeper's candidate query.
func (s *ProgressService) ListAbandoned(ctx context.Context, abandonAfter time.Duration, limit int) ([]model.ProgressRecord, error) {
	now := s.clock.Now()
	return s.progress.ListAbandoned(ctx, now.Add(-abandonAfter), now, limit)
}

// finalize scores the sheet and writes the submission, clearing progress.
func (s *ProgressService) finalize(ctx context.Context, examID uuid.UUID, exam *model.ExamDefinition, studentID int, sheet model.AnswerSheet, sessionStart time.Time, trigger model.SubmissionTrigger, guard *model.CloseGuard) (*model.SubmitResult, error) {
	slots := grading.Normalize(sheet, len(exam.Questions))
	now := s.clock.Now()

	sub := &model.SubmissionRecord{
		ID:             uuid.New(),
		ExamID:         examID,
		StudentID:      studentID,
		Answers:        slots,
		Score:          grading.Score(exam, slots),
		TotalQuestions: len(exam.Questions),
		Trigger:        trigger,
		Late:           trigger != model.TriggerSweeper && now.After(exam.EndsAt(sessionStart)),
		SubmittedAt:    now,
	}

	stored, created, err := s.submissions.Finalize(ctx, sub, guard)
	if err != nil {
		return nil, fmt.Errorf("finalize submission: %w", err)
	}

	if created {
		s.log.Info().
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Int("score", stored.Score).
			Int("total", stored.TotalQuestions).
			Int("answered", grading.Answered(stored.Answers)).
			Str("trigger", string(stored.Trigger)).
			Msg("Exam submitted and graded")
		if trigger != model.TriggerSweeper {
			s.publish(ctx, examID, MonitorEvent{
				Type:      EventSubmissionCreated,
				StudentID: studentID,
				Score:     &stored.Score,
				Trigger:   trigger,
				At:        now,
			})
		}
	}
	return &model.SubmitResult{Submission: stored, Created: created}, nil
}

func (s *ProgressService) loadExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	exam, err := s.exams.GetDefinition(ctx, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// findSubmission returns nil, nil when the pair has not been graded.
func (s *ProgressService) findSubmission(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmissionRecord, error) {
	sub, err := s.submissions.Get(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// reclassify explains why a conditional update matched no row.
func (s *ProgressService) reclassify(ctx context.Context, examID uuid.UUID, studentID int, fallback error) error {
	rec, err := s.progress.Get(ctx, examID, studentID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrProgressNotFound
	case err != nil:
		return fmt.Errorf("get progress: %w", err)
	case !rec.IsPaused && errors.Is(fallback, ErrResumeExpired):
		return ErrNotPaused
	}
	return fallback
}

func (s *ProgressService) publish(ctx context.Context, examID uuid.UUID, event MonitorEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, examID, event); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Str("event", string(event.Type)).
			Msg("Monitor publish failed")
	}
}
