package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/response"
)

// RequestLogger logs one line per request through zerolog. Heartbeats are
// frequent, so successful requests log at debug level.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		reqID, _ := c.Get(response.ContextKeyRequestID)
		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Interface("request_id", reqID).
			Str("client_ip", c.ClientIP())

		if claims := GetClaims(c); claims != nil {
			event.Int("student_id", claims.UserID)
		}
		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}
		event.Msg("Request handled")
	}
}
