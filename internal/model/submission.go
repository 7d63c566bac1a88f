package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionTrigger records what caused a submission.
type SubmissionTrigger string

const (
	TriggerClient  SubmissionTrigger = "CLIENT"
	TriggerBeacon  SubmissionTrigger = "BEACON"
	TriggerCheat   SubmissionTrigger = "CHEAT"
	TriggerTimeout SubmissionTrigger = "TIMEOUT"
	TriggerSweeper SubmissionTrigger = "SWEEPER"
)

// SubmissionRecord is the graded, immutable result of an exam attempt.
// Its existence marks the session as finished.
type SubmissionRecord struct {
	ID             uuid.UUID         `json:"submission_id"`
	ExamID         uuid.UUID         `json:"exam_id"`
	StudentID      int               `json:"student_id"`
	Answers        []*int            `json:"answers"`
	Score          int               `json:"score"`
	TotalQuestions int               `json:"total_questions"`
	Trigger        SubmissionTrigger `json:"trigger"`
	Late           bool              `json:"late"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// SubmitResult wraps a submission with whether this call created it.
type SubmitResult struct {
	Submission *SubmissionRecord
	Created    bool
}
