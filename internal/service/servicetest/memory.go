// Package servicetest provides in-memory implementations of the service
// store interfaces for tests.
package servicetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

type pairKey struct {
	exam    uuid.UUID
	student int
}

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Exams is an in-memory ExamDefinitionStore.
type Exams struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.ExamDefinition
}

// NewExams creates an empty store.
func NewExams() *Exams {
	return &Exams{exams: make(map[uuid.UUID]*model.ExamDefinition)}
}

// Put stores an exam definition, assigning an ID if missing.
func (e *Exams) Put(def *model.ExamDefinition) uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	e.exams[def.ID] = def
	return def.ID
}

// Delete removes an exam definition.
func (e *Exams) Delete(id uuid.UUID) {
	e.mu.Lock()
	delete(e.exams, id)
	e.mu.Unlock()
}

// GetDefinition implements service.ExamDefinitionStore.
func (e *Exams) GetDefinition(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *def
	return &cp, nil
}

// Ledger is an in-memory ProgressStore and SubmissionStore sharing one lock,
// so Finalize is atomic the way the SQL transaction is.
type Ledger struct {
	mu          sync.Mutex
	progress    map[pairKey]model.ProgressRecord
	submissions map[pairKey]model.SubmissionRecord

	// FailFinalize makes Finalize fail for the matching exam.
	FailFinalize map[uuid.UUID]error
	// FinalizeCalls counts Finalize invocations.
	FinalizeCalls int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		progress:     make(map[pairKey]model.ProgressRecord),
		submissions:  make(map[pairKey]model.SubmissionRecord),
		FailFinalize: make(map[uuid.UUID]error),
	}
}

// Progress returns the store view of the ledger.
func (l *Ledger) Progress() service.ProgressStore { return progressView{l} }

// Submissions returns the store view of the ledger.
func (l *Ledger) Submissions() service.SubmissionStore { return submissionView{l} }

// PutProgress seeds a progress row as-is.
func (l *Ledger) PutProgress(p model.ProgressRecord) {
	l.mu.Lock()
	l.progress[pairKey{p.ExamID, p.StudentID}] = p
	l.mu.Unlock()
}

// PutSubmission seeds a submission as-is.
func (l *Ledger) PutSubmission(s model.SubmissionRecord) {
	l.mu.Lock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	l.submissions[pairKey{s.ExamID, s.StudentID}] = s
	l.mu.Unlock()
}

// HasProgress reports whether a progress row exists.
func (l *Ledger) HasProgress(examID uuid.UUID, studentID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.progress[pairKey{examID, studentID}]
	return ok
}

// SubmissionCount returns how many submissions are stored.
func (l *Ledger) SubmissionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.submissions)
}

type progressView struct{ l *Ledger }

func (v progressView) Get(_ context.Context, examID uuid.UUID, studentID int) (*model.ProgressRecord, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	p, ok := v.l.progress[pairKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return clone(p), nil
}

func (v progressView) Upsert(_ context.Context, p *model.ProgressRecord) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	key := pairKey{p.ExamID, p.StudentID}
	existing, ok := v.l.progress[key]
	if ok && existing.IsPaused {
		return pgx.ErrNoRows
	}
	rec := *clone(*p)
	rec.IsPaused = false
	rec.PauseReason = ""
	rec.PausedAt = nil
	rec.ResumeAllowedUntil = nil
	rec.CreatedAt = p.UpdatedAt
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	v.l.progress[key] = rec
	p.CreatedAt = rec.CreatedAt
	return nil
}

func (v progressView) Pause(_ context.Context, examID uuid.UUID, studentID int, reason string, pausedAt, resumeUntil time.Time) (*model.ProgressRecord, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	key := pairKey{examID, studentID}
	p, ok := v.l.progress[key]
	if !ok || p.IsPaused {
		return nil, pgx.ErrNoRows
	}
	p.IsPaused = true
	p.PauseReason = reason
	p.PausedAt = &pausedAt
	p.ResumeAllowedUntil = &resumeUntil
	v.l.progress[key] = p
	return clone(p), nil
}

func (v progressView) Resume(_ context.Context, examID uuid.UUID, studentID int, now time.Time) (*model.ProgressRecord, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	key := pairKey{examID, studentID}
	p, ok := v.l.progress[key]
	if !ok || !p.IsPaused || p.ResumeAllowedUntil == nil || p.ResumeAllowedUntil.Before(now) {
		return nil, pgx.ErrNoRows
	}
	p.IsPaused = false
	p.PauseReason = ""
	p.PausedAt = nil
	p.ResumeAllowedUntil = nil
	p.UpdatedAt = now
	v.l.progress[key] = p
	return clone(p), nil
}

func (v progressView) Delete(_ context.Context, examID uuid.UUID, studentID int) error {
	v.l.mu.Lock()
	delete(v.l.progress, pairKey{examID, studentID})
	v.l.mu.Unlock()
	return nil
}

func (v progressView) ListAbandoned(_ context.Context, cutoff, now time.Time, limit int) ([]model.ProgressRecord, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	var out []model.ProgressRecord
	for _, p := range v.l.progress {
		if !p.UpdatedAt.Before(cutoff) {
			continue
		}
		if p.IsPaused && (p.ResumeAllowedUntil == nil || !p.ResumeAllowedUntil.Before(now)) {
			continue
		}
		out = append(out, *clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type submissionView struct{ l *Ledger }

func (v submissionView) Get(_ context.Context, examID uuid.UUID, studentID int) (*model.SubmissionRecord, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	s, ok := v.l.submissions[pairKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (v submissionView) Finalize(_ context.Context, s *model.SubmissionRecord, guard *model.CloseGuard) (*model.SubmissionRecord, bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	v.l.FinalizeCalls++
	if err := v.l.FailFinalize[s.ExamID]; err != nil {
		return nil, false, err
	}
	key := pairKey{s.ExamID, s.StudentID}
	if guard != nil {
		p, ok := v.l.progress[key]
		if !ok || !guard.Allows(&p) {
			return nil, false, pgx.ErrNoRows
		}
	}
	created := false
	stored, ok := v.l.submissions[key]
	if !ok {
		stored = *s
		v.l.submissions[key] = stored
		created = true
	}
	delete(v.l.progress, key)
	return &stored, created, nil
}

func clone(p model.ProgressRecord) *model.ProgressRecord {
	cp := p
	if p.Answers != nil {
		cp.Answers = make([]*int, len(p.Answers))
		for i, a := range p.Answers {
			if a != nil {
				v := *a
				cp.Answers[i] = &v
			}
		}
	}
	return &cp
}

// Events records published monitor events.
type Events struct {
	mu     sync.Mutex
	events []service.MonitorEvent
}

// Publish implements service.EventPublisher.
func (e *Events) Publish(_ context.Context, _ uuid.UUID, event service.MonitorEvent) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
	return nil
}

// Types returns the published event types in order.
func (e *Events) Types() []service.MonitorEventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]service.MonitorEventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}
