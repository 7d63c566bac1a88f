package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the gradable, read-only view of an exam: its ordered
// questions with correct answer indices, duration and official start.
type ExamDefinition struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	Questions       []Question `json:"questions"`
}

// Question is a single multiple-choice question.
type Question struct {
	ID                 uuid.UUID `json:"id"`
	Text               string    `json:"text"`
	Options            []string  `json:"options"`
	CorrectAnswerIndex int       `json:"correct_answer_index"`
	OrderNum           int       `json:"order_num"`
}

// Validate checks the definition can be graded.
func (e *ExamDefinition) Validate() error {
	if len(e.Questions) == 0 {
		return errors.New("exam has no questions")
	}
	for i, q := range e.Questions {
		if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
			return fmt.Errorf("question %d: correct answer index %d out of range (%d options)", i, q.CorrectAnswerIndex, len(q.Options))
		}
	}
	return nil
}

// Duration returns the exam duration.
func (e *ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// EndsAt returns the authoritative end of the exam window. When the exam has
// no schedule, the window starts at sessionStart instead.
func (e *ExamDefinition) EndsAt(sessionStart time.Time) time.Time {
	start := sessionStart
	if e.ScheduledStart != nil {
		start = *e.ScheduledStart
	}
	return start.Add(e.Duration())
}

// RemainingAt returns the server-side remaining time at now, never negative.
func (e *ExamDefinition) RemainingAt(sessionStart, now time.Time) time.Duration {
	remaining := e.EndsAt(sessionStart).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
