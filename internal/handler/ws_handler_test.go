package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/service/servicetest"
)

type wsFrame struct {
	Event    string          `json:"event"`
	Code     string          `json:"code"`
	IsPaused bool            `json:"is_paused"`
	Data     json.RawMessage `json:"data"`
}

func newStreamServer(t *testing.T) (*httptest.Server, string, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	exams := servicetest.NewExams()
	ledger := servicetest.NewLedger()
	examID := exams.Put(&model.ExamDefinition{
		Title:           "Geography",
		DurationMinutes: 45,
		Questions: []model.Question{
			{ID: uuid.New(), Options: []string{"a", "b"}, CorrectAnswerIndex: 1},
			{ID: uuid.New(), Options: []string{"a", "b"}, CorrectAnswerIndex: 0},
		},
	})

	svc := service.NewProgressService(exams, ledger.Progress(), ledger.Submissions(), nil,
		servicetest.NewClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)),
		config.SessionConfig{ResumeWindow: 30 * time.Minute}, zerolog.Nop())
	auth := service.NewAuthService(secret, time.Hour)

	r := gin.New()
	r.GET("/ws/v1/student/exams/:exam_id/stream",
		middleware.RequireStudentWSAuth(auth),
		handler.NewWSHandler(svc, zerolog.Nop(), nil).ExamWebSocketStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := auth.GenerateStudentToken(9, 1)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return srv, token, examID
}

func streamURL(srv *httptest.Server, examID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/exams/" + examID + "/stream?token=" + token
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) wsFrame {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write %s: %v", msg, err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read after %s: %v", msg, err)
	}
	return frame
}

func TestStreamSessionLifecycle(t *testing.T) {
	srv, token, examID := newStreamServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(srv, examID.String(), token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if f := roundTrip(t, conn, `{"action":"ping"}`); f.Event != "pong" {
		t.Fatalf("ping: %+v", f)
	}
	if f := roundTrip(t, conn, `{"action":"save","answers":[1],"time_left":600}`); f.Event != "saved" {
		t.Fatalf("save: %+v", f)
	}
	if f := roundTrip(t, conn, `{"action":"save","answers":[1]}`); f.Event != "error" || f.Code != "VALIDATION_ERROR" {
		t.Fatalf("save without time_left: %+v", f)
	}
	if f := roundTrip(t, conn, `{"action":"pause","reason":"blur"}`); f.Event != "paused" {
		t.Fatalf("pause: %+v", f)
	}
	if f := roundTrip(t, conn, `{"action":"save","answers":[0,0],"time_left":500}`); f.Event != "error" || f.Code != "PROGRESS_PAUSED" || !f.IsPaused {
		t.Fatalf("save while paused: %+v", f)
	}
	if f := roundTrip(t, conn, `{"action":"resume"}`); f.Event != "resumed" {
		t.Fatalf("resume: %+v", f)
	}
	if f := roundTrip(t, conn, `not json`); f.Event != "error" || f.Code != "INVALID_PAYLOAD" {
		t.Fatalf("garbage: %+v", f)
	}

	// Submitting without answers grades the saved progress: [1, null] scores 1.
	f := roundTrip(t, conn, `{"action":"submit"}`)
	if f.Event != "graded" {
		t.Fatalf("submit: %+v", f)
	}
	var sub model.SubmissionRecord
	if err := json.Unmarshal(f.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Score != 1 || sub.TotalQuestions != 2 || sub.Trigger != model.TriggerClient {
		t.Fatalf("submission = %+v", sub)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should close after grading")
	}
}

func TestStreamCheatSubmitsWithCheatTrigger(t *testing.T) {
	srv, token, examID := newStreamServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(srv, examID.String(), token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := roundTrip(t, conn, `{"action":"cheat","answers":{"1":0},"payload":"{\"type\":\"tab_switch\"}"}`)
	if f.Event != "graded" {
		t.Fatalf("cheat: %+v", f)
	}
	var sub model.SubmissionRecord
	if err := json.Unmarshal(f.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Trigger != model.TriggerCheat || sub.Score != 1 {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestStreamRejectsBeforeUpgrade(t *testing.T) {
	srv, token, _ := newStreamServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(srv, uuid.NewString(), token), nil)
	if err == nil {
		t.Fatal("dial to unknown exam succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v, want 404", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(streamURL(srv, uuid.NewString(), ""), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err = %v resp = %v", err, resp)
	}
}
