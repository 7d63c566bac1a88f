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
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/service/servicetest"
	"github.com/stemsi/exstem-session/internal/validator"
)

const secret = "handler-test-secret"

type server struct {
	engine *gin.Engine
	token  string
	examID uuid.UUID
	clock  *servicetest.Clock
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	exams := servicetest.NewExams()
	ledger := servicetest.NewLedger()
	clock := servicetest.NewClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))

	examID := exams.Put(&model.ExamDefinition{
		Title:           "Biology",
		DurationMinutes: 60,
		Questions: []model.Question{
			{ID: uuid.New(), Options: []string{"a", "b", "c"}, CorrectAnswerIndex: 1},
			{ID: uuid.New(), Options: []string{"a", "b", "c"}, CorrectAnswerIndex: 0},
			{ID: uuid.New(), Options: []string{"a", "b", "c"}, CorrectAnswerIndex: 2},
		},
	})

	svc := service.NewProgressService(exams, ledger.Progress(), ledger.Submissions(), nil, clock,
		config.SessionConfig{ResumeWindow: 30 * time.Minute}, zerolog.Nop())
	auth := service.NewAuthService(secret, time.Hour)
	h := handler.NewProgressHandler(svc, zerolog.Nop())

	r := gin.New()
	student := r.Group("/api/v1/student", middleware.RequireStudentJWT(auth))
	student.GET("/exams/:exam_id/progress", h.GetProgress)
	student.POST("/exams/:exam_id/progress", h.SaveProgress)
	student.POST("/exams/:exam_id/progress/pause", h.PauseProgress)
	student.POST("/exams/:exam_id/progress/resume", h.ResumeProgress)
	student.DELETE("/exams/:exam_id/progress", h.ClearProgress)
	student.POST("/exams/:exam_id/submit", h.Submit)
	student.GET("/exams/:exam_id/result", h.GetResult)

	token, err := auth.GenerateStudentToken(42, 1)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &server{engine: r, token: token, examID: examID, clock: clock}
}

func (s *server) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, env
}

func (s *server) path(suffix string) string {
	return "/api/v1/student/exams/" + s.examID.String() + suffix
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestRequiresStudentToken(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, s.path("/progress"), nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	s.token = "not-a-jwt"
	w, env := s.do(t, http.MethodGet, s.path("/progress"), "")
	if w.Code != http.StatusUnauthorized || errCode(env) != "TOKEN_INVALID" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestInvalidExamID(t *testing.T) {
	s := newServer(t)
	w, env := s.do(t, http.MethodGet, "/api/v1/student/exams/nope/progress", "")
	if w.Code != http.StatusBadRequest || errCode(env) != "INVALID_ID" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestUnknownExam(t *testing.T) {
	s := newServer(t)
	w, env := s.do(t, http.MethodGet, "/api/v1/student/exams/"+uuid.NewString()+"/progress", "")
	if w.Code != http.StatusNotFound || errCode(env) != "EXAM_NOT_FOUND" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestSaveAndGetProgress(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, s.path("/progress"), `{"answers":{"0":1,"2":2},"time_left":1200}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}

	w, env := s.do(t, http.MethodGet, s.path("/progress"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var view model.ProgressView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.State != model.SessionStateInProgress || len(view.Answers) != 3 {
		t.Fatalf("view = %+v", view)
	}
	if view.Answers[0] == nil || *view.Answers[0] != 1 || view.Answers[1] != nil {
		t.Fatalf("answers not normalized: %s", string(env.Data))
	}
}

func TestSaveProgressValidation(t *testing.T) {
	s := newServer(t)

	cases := map[string]string{
		"missing time_left":  `{"answers":[1]}`,
		"negative time_left": `{"answers":[1],"time_left":-5}`,
		"answers not a list": `{"answers":"abc","time_left":10}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w, env := s.do(t, http.MethodPost, s.path("/progress"), body)
			if w.Code != http.StatusBadRequest || errCode(env) != "VALIDATION_ERROR" {
				t.Fatalf("status = %d code = %s", w.Code, errCode(env))
			}
		})
	}
}

func TestPausedSaveReturnsConflict(t *testing.T) {
	s := newServer(t)

	s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[1],"time_left":100}`)
	w, _ := s.do(t, http.MethodPost, s.path("/progress/pause"), `{"reason":"visibility hidden"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}

	w, env := s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[2],"time_left":90}`)
	if w.Code != http.StatusConflict || errCode(env) != "PROGRESS_PAUSED" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
	var data struct {
		IsPaused bool `json:"is_paused"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || !data.IsPaused {
		t.Fatalf("data = %s, want is_paused true", string(env.Data))
	}
}

func TestResumeLifecycle(t *testing.T) {
	s := newServer(t)

	s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[1,null,2],"time_left":700}`)
	s.do(t, http.MethodPost, s.path("/progress/pause"), "")

	w, env := s.do(t, http.MethodPost, s.path("/progress/resume"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	var res model.ResumeResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.TimeLeft != 700 || len(res.Answers) != 3 {
		t.Fatalf("resume = %+v", res)
	}

	w, env = s.do(t, http.MethodPost, s.path("/progress/resume"), "")
	if w.Code != http.StatusConflict || errCode(env) != "NOT_PAUSED" {
		t.Fatalf("second resume: status = %d code = %s", w.Code, errCode(env))
	}
}

func TestResumeAfterWindowIsGone(t *testing.T) {
	s := newServer(t)

	s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[],"time_left":700}`)
	s.do(t, http.MethodPost, s.path("/progress/pause"), "")
	s.clock.Advance(31 * time.Minute)

	w, env := s.do(t, http.MethodPost, s.path("/progress/resume"), "")
	if w.Code != http.StatusGone || errCode(env) != "RESUME_EXPIRED" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestSubmitIsIdempotentOverHTTP(t *testing.T) {
	s := newServer(t)

	w, env := s.do(t, http.MethodPost, s.path("/submit"), `{"answers":[1,1,2]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("first submit status = %d, body = %s", w.Code, w.Body.String())
	}
	var first struct {
		SubmissionID   string `json:"submission_id"`
		Score          int    `json:"score"`
		TotalQuestions int    `json:"total_questions"`
	}
	if err := json.Unmarshal(env.Data, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Score != 2 || first.TotalQuestions != 3 || first.SubmissionID == "" {
		t.Fatalf("submission = %+v", first)
	}

	// Beacon retries arrive with an empty body.
	w, env = s.do(t, http.MethodPost, s.path("/submit"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("second submit status = %d", w.Code)
	}
	var second struct {
		SubmissionID string `json:"submission_id"`
		Score        int    `json:"score"`
	}
	if err := json.Unmarshal(env.Data, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.SubmissionID != first.SubmissionID || second.Score != 2 {
		t.Fatalf("second = %+v, first = %+v", second, first)
	}

	w, env = s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[0],"time_left":5}`)
	if w.Code != http.StatusConflict || errCode(env) != "ALREADY_SUBMITTED" {
		t.Fatalf("save after submit: status = %d code = %s", w.Code, errCode(env))
	}
}

func TestSubmitRejectsUnknownTrigger(t *testing.T) {
	s := newServer(t)
	w, env := s.do(t, http.MethodPost, s.path("/submit"), `{"answers":[1],"trigger":"SWEEPER"}`)
	if w.Code != http.StatusBadRequest || errCode(env) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestResultAndClear(t *testing.T) {
	s := newServer(t)

	w, env := s.do(t, http.MethodGet, s.path("/result"), "")
	if w.Code != http.StatusNotFound || errCode(env) != "RESULT_NOT_FOUND" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}

	s.do(t, http.MethodPost, s.path("/progress"), `{"answers":[1],"time_left":10}`)
	w, _ = s.do(t, http.MethodDelete, s.path("/progress"), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", w.Code)
	}

	w, env = s.do(t, http.MethodPost, s.path("/progress/pause"), "")
	if w.Code != http.StatusNotFound || errCode(env) != "PROGRESS_NOT_FOUND" {
		t.Fatalf("pause after clear: status = %d code = %s", w.Code, errCode(env))
	}
}
