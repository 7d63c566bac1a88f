package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// ProgressHandler serves the student exam session endpoints.
type ProgressHandler struct {
	progressService *service.ProgressService
	log             zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progressService *service.ProgressService, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		log:             log.With().Str("component", "progress_handler").Logger(),
	}
}

// GetProgress godoc
// GET /api/v1/student/exams/:exam_id/progress
// Returns the session state, saved answers and server-side remaining time.
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	view, err := h.progressService.GetProgress(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// SaveProgress godoc
// POST /api/v1/student/exams/:exam_id/progress
// Heartbeat: stores the answers and remaining time.
func (h *ProgressHandler) SaveProgress(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SaveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.progressService.SaveProgress(c.Request.Context(), examID, claims.UserID, req.Answers, *req.TimeLeft); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PauseProgress godoc
// POST /api/v1/student/exams/:exam_id/progress/pause
func (h *ProgressHandler) PauseProgress(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.PauseProgressRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rec, err := h.progressService.PauseProgress(c.Request.Context(), examID, claims.UserID, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, rec)
}

// ResumeProgress godoc
// POST /api/v1/student/exams/:exam_id/progress/resume
// Returns the preserved answers and time left, or 410 once the window closed.
func (h *ProgressHandler) ResumeProgress(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	res, err := h.progressService.ResumeProgress(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// ClearProgress godoc
// DELETE /api/v1/student/exams/:exam_id/progress
func (h *ProgressHandler) ClearProgress(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	if err := h.progressService.ClearProgress(c.Request.Context(), examID, claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Grades the exam. 201 on the first call, 200 with the stored result after.
func (h *ProgressHandler) Submit(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.progressService.Submit(c.Request.Context(), examID, claims.UserID, req.Answers, req.Trigger)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, res.Submission)
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
func (h *ProgressHandler) GetResult(c *gin.Context) {
	claims, examID, ok := h.target(c)
	if !ok {
		return
	}

	sub, err := h.progressService.GetResult(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// target resolves the caller and the exam in the path, writing the error
// response itself when either is missing.
func (h *ProgressHandler) target(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}

func (h *ProgressHandler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Session operation failed")
	}

	if errors.Is(err, service.ErrProgressPaused) {
		response.FailWithData(c, status, code, gin.H{"is_paused": true})
		return
	}
	response.Fail(c, status, code)
}

// statusFor maps a service error onto its HTTP status and error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrProgressNotFound):
		return http.StatusNotFound, response.ErrProgressNotFound
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotFound
	case errors.Is(err, service.ErrProgressPaused):
		return http.StatusConflict, response.ErrProgressPaused
	case errors.Is(err, service.ErrAlreadyPaused):
		return http.StatusConflict, response.ErrAlreadyPaused
	case errors.Is(err, service.ErrNotPaused):
		return http.StatusConflict, response.ErrNotPaused
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrExamNotGradable):
		return http.StatusUnprocessableEntity, response.ErrExamNotGradable
	}

	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest, response.ErrValidation
	case service.KindExpiredWindow:
		return http.StatusGone, response.ErrResumeExpired
	default:
		return http.StatusServiceUnavailable, response.ErrServiceUnavailable
	}
}
