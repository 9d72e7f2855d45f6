package session

import "errors"

var (
	ErrInvalidTransition      = errors.New("action not allowed in the current session state")
	ErrResumeDecisionRequired = errors.New("saved progress found, choose resume or restart")
	ErrExamNotStarted         = errors.New("exam has not started yet")
	ErrExamClosed             = errors.New("exam window has closed")
	ErrResultNotAvailable     = errors.New("result is not available")
	ErrAlreadySubmitting      = errors.New("submission already in progress")
	ErrAttemptNotFound        = errors.New("attempt not found")
)

// Notices shown alongside the home state.
const (
	NoticeResultAfterEnd = "results available after end time"
	NoticeQueued         = "submission saved offline and will sync when the connection returns"
	NoticeSynced         = "offline submission synced"
)
