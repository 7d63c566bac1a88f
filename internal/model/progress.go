package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates the states of a (student, exam) session.
type SessionState string

const (
	SessionStateNone       SessionState = "NONE"
	SessionStateInProgress SessionState = "IN_PROGRESS"
	SessionStatePaused     SessionState = "PAUSED"
	SessionStateExpired    SessionState = "EXPIRED"
	SessionStateSubmitted  SessionState = "SUBMITTED"
)

// ProgressRecord is the in-flight state of one student's exam attempt.
// Answers hold one slot per question; nil marks an unanswered slot.
type ProgressRecord struct {
	ExamID             uuid.UUID  `json:"exam_id"`
	StudentID          int        `json:"student_id"`
	Answers            []*int     `json:"answers"`
	TimeLeft           int        `json:"time_left"`
	IsPaused           bool       `json:"is_paused"`
	PauseReason        string     `json:"pause_reason,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	ResumeAllowedUntil *time.Time `json:"resume_allowed_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ResumeExpired reports whether a paused record has outlived its resume window.
func (p *ProgressRecord) ResumeExpired(now time.Time) bool {
	return p.IsPaused && p.ResumeAllowedUntil != nil && now.After(*p.ResumeAllowedUntil)
}

// CloseGuard pins an auto-submit to the progress row the sweeper inspected.
// The row is only removed while it is still at UpdatedAt and not inside an
// open resume window at Now.
type CloseGuard struct {
	UpdatedAt time.Time
	Now       time.Time
}

// Allows reports whether p still matches the guard.
func (g CloseGuard) Allows(p *ProgressRecord) bool {
	if !p.UpdatedAt.Equal(g.UpdatedAt) {
		return false
	}
	return !p.IsPaused || (p.ResumeAllowedUntil != nil && p.ResumeAllowedUntil.Before(g.Now))
}

// ProgressView is what a client sees when it asks for its session state.
type ProgressView struct {
	State              SessionState      `json:"state"`
	Answers            []*int            `json:"answers,omitempty"`
	TimeLeft           *int              `json:"time_left,omitempty"`
	ServerTimeLeft     *float64          `json:"server_time_left,omitempty"`
	IsPaused           bool              `json:"is_paused"`
	PausedAt           *time.Time        `json:"paused_at,omitempty"`
	ResumeAllowedUntil *time.Time        `json:"resume_allowed_until,omitempty"`
	UpdatedAt          *time.Time        `json:"updated_at,omitempty"`
	Submission         *SubmissionRecord `json:"submission,omitempty"`
}

// SaveProgressRequest is the heartbeat payload.
type SaveProgressRequest struct {
	Answers  AnswerSheet `json:"answers"`
	TimeLeft *int        `json:"time_left" binding:"required,min=0"`
}

// PauseProgressRequest is the payload for pausing a session.
type PauseProgressRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

// SubmitRequest is the payload for finishing an exam. Answers may be omitted,
// in which case the last saved progress is graded.
type SubmitRequest struct {
	Answers *AnswerSheet      `json:"answers"`
	Trigger SubmissionTrigger `json:"trigger" binding:"omitempty,oneof=CLIENT BEACON CHEAT TIMEOUT"`
}

// ResumeResult is returned when a paused session is resumed.
type ResumeResult struct {
	Answers  []*int `json:"answers"`
	TimeLeft int    `json:"time_left"`
}
