package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotFound           ErrCode = "EXAM_NOT_FOUND"
	ErrIneligible             ErrCode = "NOT_ELIGIBLE"
	ErrMaxAttempts            ErrCode = "MAX_ATTEMPTS_REACHED"
	ErrExamNotStarted         ErrCode = "EXAM_NOT_STARTED"
	ErrExamClosed             ErrCode = "EXAM_CLOSED"
	ErrInvalidTransition      ErrCode = "INVALID_TRANSITION"
	ErrResumeDecisionRequired ErrCode = "RESUME_DECISION_REQUIRED"
	ErrResultNotAvailable     ErrCode = "RESULT_NOT_AVAILABLE"
	ErrAlreadySubmitting      ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrAttemptNotFound        ErrCode = "ATTEMPT_NOT_FOUND"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRateLimitExceeded  ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrResultsUnavailable ErrCode = "RESULTS_STORE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Exam not found."
	case ErrIneligible:
		return "You are not eligible to take this exam."
	case ErrMaxAttempts:
		return "You have used every allowed attempt for this exam."
	case ErrExamNotStarted:
		return "This exam has not started yet."
	case ErrExamClosed:
		return "This exam has closed."
	case ErrInvalidTransition:
		return "This action is not allowed right now."
	case ErrResumeDecisionRequired:
		return "Saved progress found. Choose resume or restart."
	case ErrResultNotAvailable:
		return "Results are available after the exam ends."
	case ErrAlreadySubmitting:
		return "Your submission is already being processed."
	case ErrAttemptNotFound:
		return "Attempt not found."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Slow down and try again."
	case ErrResultsUnavailable:
		return "The results server is unreachable. Please try again shortly."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
