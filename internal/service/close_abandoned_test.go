package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/service/servicetest"
)

func listOne(t *testing.T, f *fixture) model.ProgressRecord {
	t.Helper()
	cands, err := f.svc.ListAbandoned(context.Background(), 20*time.Minute, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	return cands[0]
}

func TestCloseAbandonedSkipsSessionSavedAfterListing(t *testing.T) {
	f := newFixture(t, 1, 1)
	ctx := context.Background()

	if err := f.svc.SaveProgress(ctx, f.examID, studentID, model.AnswerSheet{0: 0}, 600); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.clock.Advance(21 * time.Minute)
	listed := listOne(t, f)

	// The client comes back while earlier batches are still being closed.
	if err := f.svc.SaveProgress(ctx, f.examID, studentID, model.AnswerSheet{0: 1, 1: 1}, 500); err != nil {
		t.Fatalf("save: %v", err)
	}

	outcome, err := f.svc.CloseAbandoned(ctx, listed)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if outcome != service.OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if f.ledger.SubmissionCount() != 0 || !f.ledger.HasProgress(f.examID, studentID) {
		t.Fatal("live session was closed")
	}

	// Silent again: the next sweep grades what was saved last.
	f.clock.Advance(21 * time.Minute)
	outcome, err = f.svc.CloseAbandoned(ctx, listOne(t, f))
	if err != nil || outcome != service.OutcomeGraded {
		t.Fatalf("close: outcome = %s, err = %v", outcome, err)
	}
	sub, err := f.svc.GetResult(ctx, f.examID, studentID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if sub.Score != 2 {
		t.Fatalf("score = %d, want 2 from the latest answers", sub.Score)
	}
}

func TestCloseAbandonedSkipsSessionPausedAfterListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.SaveProgress(ctx, f.examID, studentID, model.AnswerSheet{0: 1}, 600); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.clock.Advance(21 * time.Minute)
	listed := listOne(t, f)

	if _, err := f.svc.PauseProgress(ctx, f.examID, studentID, "network"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	outcome, err := f.svc.CloseAbandoned(ctx, listed)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if outcome != service.OutcomeSkipped || f.ledger.SubmissionCount() != 0 {
		t.Fatalf("outcome = %s, submissions = %d", outcome, f.ledger.SubmissionCount())
	}
}

func TestCloseAbandonedSkipsClearedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.SaveProgress(ctx, f.examID, studentID, model.AnswerSheet{0: 1}, 600); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.clock.Advance(21 * time.Minute)
	listed := listOne(t, f)

	if err := f.svc.ClearProgress(ctx, f.examID, studentID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	outcome, err := f.svc.CloseAbandoned(ctx, listed)
	if err != nil || outcome != service.OutcomeSkipped {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
}

// heartbeatAfterGet lands a save right after the row is read, before the
// submission is written.
type heartbeatAfterGet struct {
	service.ProgressStore
	once sync.Once
	beat func()
}

func (h *heartbeatAfterGet) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.ProgressRecord, error) {
	rec, err := h.ProgressStore.Get(ctx, examID, studentID)
	h.once.Do(h.beat)
	return rec, err
}

func TestCloseAbandonedRollsBackWhenRowChangesBeforeFinalize(t *testing.T) {
	exams := servicetest.NewExams()
	ledger := servicetest.NewLedger()
	clock := servicetest.NewClock(t0)
	examID := exams.Put(&model.ExamDefinition{
		Title:           "Biology",
		DurationMinutes: 60,
		Questions:       []model.Question{{Options: []string{"a", "b"}, CorrectAnswerIndex: 1}},
	})

	stale := t0.Add(-time.Hour)
	ledger.PutProgress(model.ProgressRecord{
		ExamID:    examID,
		StudentID: studentID,
		Answers:   []*int{intp(0)},
		CreatedAt: stale,
		UpdatedAt: stale,
	})

	progress := &heartbeatAfterGet{
		ProgressStore: ledger.Progress(),
		beat: func() {
			ledger.PutProgress(model.ProgressRecord{
				ExamID:    examID,
				StudentID: studentID,
				Answers:   []*int{intp(1)},
				CreatedAt: stale,
				UpdatedAt: t0,
			})
		},
	}
	svc := service.NewProgressService(exams, progress, ledger.Submissions(), nil, clock,
		config.SessionConfig{ResumeWindow: 30 * time.Minute}, zerolog.Nop())

	listed, err := svc.ListAbandoned(context.Background(), 20*time.Minute, 10)
	if err != nil || len(listed) != 1 {
		t.Fatalf("list: %v, %d candidates", err, len(listed))
	}

	outcome, err := svc.CloseAbandoned(context.Background(), listed[0])
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if outcome != service.OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if ledger.SubmissionCount() != 0 {
		t.Fatal("submission written for a session that saved meanwhile")
	}
	if !ledger.HasProgress(examID, studentID) {
		t.Fatal("fresh progress was deleted")
	}
}
