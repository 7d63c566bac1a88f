package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// HealthChecker reports failing dependencies by name.
type HealthChecker interface {
	Check(ctx context.Context) map[string]error
}

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Progress *handler.ProgressHandler
	WS       *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	health HealthChecker,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("Recovered from panic")
		response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
	}))

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if failures := health.Check(ctx); len(failures) > 0 {
			fields := make(map[string]string, len(failures))
			for name, err := range failures {
				fields[name] = err.Error()
			}
			response.FailWithFields(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable, fields)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── Student Session API ───────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		exam := studentAPI.Group("/exams/:exam_id")
		exam.GET("/progress", handlers.Progress.GetProgress)
		exam.POST("/progress", handlers.Progress.SaveProgress)
		exam.DELETE("/progress", handlers.Progress.ClearProgress)
		exam.POST("/progress/pause", handlers.Progress.PauseProgress)
		exam.POST("/progress/resume", handlers.Progress.ResumeProgress)
		exam.POST("/submit", handlers.Progress.Submit)
		exam.GET("/result", handlers.Progress.GetResult)
	}

	// ─── WebSocket (token in query) ────────────────────────────────────
	wsGroup := router.Group("/ws/v1/student")
	wsGroup.Use(middleware.RequireStudentWSAuth(authService))
	{
		wsGroup.GET("/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	return router
}
