package service

import (
	"errors"

	"github.com/stemsi/exstem-session/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotGradable  = errors.New("exam definition cannot be graded")
	ErrInvalidTimeLeft  = errors.New("time left must not be negative")
	ErrProgressNotFound = errors.New("no progress recorded for this exam")
	ErrResultNotFound   = errors.New("exam has not been submitted")
	ErrProgressPaused   = errors.New("cannot update progress while paused")
	ErrAlreadyPaused    = errors.New("progress is already paused")
	ErrNotPaused        = errors.New("progress is not paused")
	ErrAlreadySubmitted = errors.New("exam has already been submitted")
	ErrResumeExpired    = errors.New("resume window has expired")
	ErrOrphanProgress   = errors.New("progress references a missing exam")
	ErrSweepInProgress  = errors.New("a sweep is already running")
)

// ErrorKind classifies errors for callers deciding how to react.
type ErrorKind int

const (
	// KindTransient covers persistence and infrastructure failures; retryable.
	KindTransient ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExpiredWindow
	KindOrphanData
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExpiredWindow:
		return "expired_window"
	case KindOrphanData:
		return "orphan_data"
	default:
		return "transient"
	}
}

// KindOf maps an error returned by this package onto the error taxonomy.
// Unknown errors are treated as transient.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrExamNotFound),
		errors.Is(err, ErrExamNotGradable),
		errors.Is(err, model.ErrMalformedAnswers),
		errors.Is(err, ErrInvalidTimeLeft):
		return KindValidation
	case errors.Is(err, ErrProgressNotFound), errors.Is(err, ErrResultNotFound):
		return KindNotFound
	case errors.Is(err, ErrProgressPaused),
		errors.Is(err, ErrAlreadyPaused),
		errors.Is(err, ErrNotPaused),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrSweepInProgress):
		return KindConflict
	case errors.Is(err, ErrResumeExpired):
		return KindExpiredWindow
	case errors.Is(err, ErrOrphanProgress):
		return KindOrphanData
	default:
		return KindTransient
	}
}
