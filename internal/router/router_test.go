package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/service/servicetest"
)

type stubHealth map[string]error

func (s stubHealth) Check(context.Context) map[string]error { return s }

func newTestRouter(t *testing.T, health HealthChecker) (http.Handler, *service.AuthService, string) {
	t.Helper()

	exams := servicetest.NewExams()
	ledger := servicetest.NewLedger()
	examID := exams.Put(&model.ExamDefinition{
		Title:           "History",
		DurationMinutes: 30,
		Questions:       []model.Question{{Options: []string{"a", "b"}, CorrectAnswerIndex: 0}},
	})

	svc := service.NewProgressService(exams, ledger.Progress(), ledger.Submissions(), nil, nil,
		config.SessionConfig{ResumeWindow: 30 * time.Minute}, zerolog.Nop())
	auth := service.NewAuthService("router-secret", time.Hour)

	cfg := &config.Config{GinMode: "test"}
	r := SetupRouter(auth, &Handlers{
		Progress: handler.NewProgressHandler(svc, zerolog.Nop()),
		WS:       handler.NewWSHandler(svc, zerolog.Nop(), nil),
	}, health, cfg, zerolog.Nop())

	return r, auth, "/api/v1/student/exams/" + examID.String()
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t, stubHealth{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestHealthReportsFailingStore(t *testing.T) {
	r, _, _ := newTestRouter(t, stubHealth{"redis": errors.New("connection refused")})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestStudentRoutesRequireToken(t *testing.T) {
	r, auth, base := newTestRouter(t, stubHealth{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, base+"/progress", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	token, err := auth.GenerateStudentToken(3, 1)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, base+"/progress", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestBeaconSubmitWithQueryToken(t *testing.T) {
	r, auth, base := newTestRouter(t, stubHealth{})

	token, err := auth.GenerateStudentToken(3, 1)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, base+"/submit?token="+token, nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPanicRecoversWithInternalError(t *testing.T) {
	r := SetupRouter(service.NewAuthService("router-secret", time.Hour), &Handlers{},
		stubHealth{}, &config.Config{GinMode: "test"}, zerolog.Nop())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Code != response.ErrInternal {
		t.Fatalf("error = %+v, want INTERNAL_ERROR", body.Error)
	}
}
