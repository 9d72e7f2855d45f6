package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// submitTimeout bounds a submission once the request that triggered it is gone.
const submitTimeout = 30 * time.Second

// SessionHandler exposes the exam session machine to students.
type SessionHandler struct {
	sessions *session.Manager
	timing   *service.TimingService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *session.Manager, timing *service.TimingService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		timing:   timing,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// GetTiming godoc
// GET /api/v1/student/exams/:exam_id/timing?started_at=RFC3339
// Returns duration, seconds remaining and the subject unlock schedule.
func (h *SessionHandler) GetTiming(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	var startedAt *time.Time
	if raw := c.Query("started_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"started_at": "started_at must be an RFC3339 timestamp"})
			return
		}
		startedAt = &t
	}

	view, err := h.timing.View(c.Request.Context(), examID, startedAt)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, m.View())
}

// Open godoc
// POST /api/v1/student/exams/:exam_id/open
// Checks eligibility and attempts, then shows the instructions.
func (h *SessionHandler) Open(c *gin.Context) {
	h.transition(c, func(ctx context.Context, m *session.Machine) error { return m.Open(ctx) })
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/start
func (h *SessionHandler) Start(c *gin.Context) {
	h.transition(c, func(ctx context.Context, m *session.Machine) error { return m.Start(ctx) })
}

// Resume godoc
// POST /api/v1/student/exams/:exam_id/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	h.transition(c, func(ctx context.Context, m *session.Machine) error { return m.Resume(ctx) })
}

// Restart godoc
// POST /api/v1/student/exams/:exam_id/restart
func (h *SessionHandler) Restart(c *gin.Context) {
	h.transition(c, func(ctx context.Context, m *session.Machine) error { return m.Restart(ctx) })
}

// Cancel godoc
// POST /api/v1/student/exams/:exam_id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	h.transition(c, func(_ context.Context, m *session.Machine) error { return m.Cancel() })
}

// Back godoc
// POST /api/v1/student/exams/:exam_id/back
func (h *SessionHandler) Back(c *gin.Context) {
	h.transition(c, func(ctx context.Context, m *session.Machine) error { return m.Back(ctx) })
}

// SaveAnswer godoc
// POST /api/v1/student/exams/:exam_id/answers
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := m.SaveAnswer(c.Request.Context(), req.QuestionID, req.Answer); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Hands the attempt in. A dropped connection does not abort the submission.
func (h *SessionHandler) Submit(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), submitTimeout)
	defer cancel()

	outcome, err := m.Submit(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submission": outcome, "session": m.View()})
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
func (h *SessionHandler) GetResult(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	res, err := m.ViewResult(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res, "session": m.View()})
}

// GetAttempt godoc
// GET /api/v1/student/exams/:exam_id/attempts/:attempt_id
func (h *SessionHandler) GetAttempt(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	attempt, err := m.ViewAttempt(c.Request.Context(), attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt, "session": m.View()})
}

func (h *SessionHandler) transition(c *gin.Context, fn func(ctx context.Context, m *session.Machine) error) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), m); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, m.View())
}

func (h *SessionHandler) machine(c *gin.Context) (*session.Machine, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	examID, ok := examIDParam(c)
	if !ok {
		return nil, false
	}
	return h.sessions.Get(examID, claims.UserID), true
}

func examIDParam(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// statusOf maps domain errors onto HTTP status and error code.
func statusOf(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, examapi.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, examapi.ErrIneligible):
		return http.StatusForbidden, response.ErrIneligible
	case errors.Is(err, examapi.ErrMaxAttempts):
		return http.StatusForbidden, response.ErrMaxAttempts
	case errors.Is(err, session.ErrExamNotStarted):
		return http.StatusForbidden, response.ErrExamNotStarted
	case errors.Is(err, session.ErrExamClosed):
		return http.StatusForbidden, response.ErrExamClosed
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition
	case errors.Is(err, session.ErrResumeDecisionRequired):
		return http.StatusConflict, response.ErrResumeDecisionRequired
	case errors.Is(err, session.ErrAlreadySubmitting):
		return http.StatusConflict, response.ErrAlreadySubmitting
	case errors.Is(err, session.ErrResultNotAvailable):
		return http.StatusForbidden, response.ErrResultNotAvailable
	case errors.Is(err, session.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case examapi.IsTransient(err):
		return http.StatusServiceUnavailable, response.ErrResultsUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
