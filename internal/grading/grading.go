// Package grading holds the pure answer normalization and scoring rules
// shared by explicit submissions and the auto-submit sweeper.
package grading

import (
	"github.com/stemsi/exstem-session/internal/model"
)

// Normalize expands a sparse answer sheet into exactly questionCount slots.
// Indices outside [0, questionCount) are dropped; missing slots stay nil.
func Normalize(sheet model.AnswerSheet, questionCount int) []*int {
	if questionCount < 0 {
		questionCount = 0
	}
	slots := make([]*int, questionCount)
	for idx, choice := range sheet {
		if idx < 0 || idx >= questionCount || choice < 0 {
			continue
		}
		v := choice
		slots[idx] = &v
	}
	return slots
}

// Score counts the questions whose slot matches the correct answer index.
// Missing, unanswered and out-of-range slots never match.
func Score(exam *model.ExamDefinition, answers []*int) int {
	score := 0
	for i, q := range exam.Questions {
		if i >= len(answers) || answers[i] == nil {
			continue
		}
		if *answers[i] == q.CorrectAnswerIndex {
			score++
		}
	}
	return score
}

// Answered returns how many slots hold a selection.
func Answered(answers []*int) int {
	n := 0
	for _, a := range answers {
		if a != nil {
			n++
		}
	}
	return n
}
