package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the session operations over a WebSocket, for clients that
// keep one connection open instead of polling the HTTP endpoints.
type WSHandler struct {
	progressService *service.ProgressService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(progressService *service.ProgressService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		progressService: progressService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for heartbeats, pause/resume and submission.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	studentID := claims.UserID

	// Reject unknown exams before upgrading so the client gets a plain 404.
	if _, err := h.progressService.GetProgress(ctx, examID, studentID); err != nil {
		status, code := statusFor(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		action, raw, err := ws.ReadRaw(conn)
		if errors.Is(err, ws.ErrBadFrame) {
			ws.WriteError(conn, string(response.ErrInvalidPayload), err.Error())
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if done := h.dispatch(ctx, conn, wsLog, examID, studentID, action, raw); done {
			return
		}
	}
}

// dispatch runs one action and reports whether the session is finished.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, examID uuid.UUID, studentID int, action ws.Action, raw []byte) bool {
	switch action {
	case ws.ActionPing:
		ws.WriteTyped(conn, ws.Response{Event: ws.EventPong})

	case ws.ActionSave:
		var req ws.SaveRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			ws.WriteError(conn, string(response.ErrValidation), err.Error())
			return false
		}
		if req.TimeLeft == nil {
			ws.WriteError(conn, string(response.ErrValidation), "time_left is required")
			return false
		}
		if err := h.progressService.SaveProgress(ctx, examID, studentID, req.Answers, *req.TimeLeft); err != nil {
			h.writeFailure(conn, wsLog, err)
			return false
		}
		ws.WriteEvent(conn, ws.EventSaved, nil)

	case ws.ActionPause:
		var req ws.PauseRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			ws.WriteError(conn, string(response.ErrValidation), err.Error())
			return false
		}
		rec, err := h.progressService.PauseProgress(ctx, examID, studentID, req.Reason)
		if err != nil {
			h.writeFailure(conn, wsLog, err)
			return false
		}
		ws.WriteEvent(conn, ws.EventPaused, rec)

	case ws.ActionResume:
		res, err := h.progressService.ResumeProgress(ctx, examID, studentID)
		if err != nil {
			h.writeFailure(conn, wsLog, err)
			return false
		}
		ws.WriteEvent(conn, ws.EventResumed, res)

	case ws.ActionSubmit, ws.ActionCheat:
		var req ws.SubmitRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			ws.WriteError(conn, string(response.ErrValidation), err.Error())
			return false
		}
		trigger := model.TriggerClient
		if action == ws.ActionCheat {
			trigger = model.TriggerCheat
			wsLog.Warn().Str("payload", req.Payload).Msg("Cheat reported, force-submitting")
		}
		res, err := h.progressService.Submit(ctx, examID, studentID, req.Answers, trigger)
		if err != nil {
			h.writeFailure(conn, wsLog, err)
			return false
		}
		ws.WriteEvent(conn, ws.EventGraded, res.Submission)
		return true

	default:
		wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
		ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(action))
	}
	return false
}

func (h *WSHandler) writeFailure(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Session operation failed")
	}
	ws.WriteTyped(conn, ws.ErrorResponse{
		Event:    ws.EventError,
		Code:     string(code),
		Error:    response.GetMessage(code),
		IsPaused: errors.Is(err, service.ErrProgressPaused),
	})
}
