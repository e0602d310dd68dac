// Package middleware provides HTTP middleware functions for request logging and processing.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stwalsh4118/cadence/internal/logger"
)

// quietPaths are logged at debug level so polling does not flood the log
var quietPaths = map[string]bool{
	"/api/health":                           true,
	"/api/sessions/:session_id/now-playing": true,
}

// RequestLogger returns a Gin middleware for logging HTTP requests.
// Client errors log at warn and server errors at error.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := requestEvent(c.FullPath(), status)

		if id := c.Param("session_id"); id != "" {
			event = event.Str("session_id", id)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")

		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}

func requestEvent(route string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Log.Error()
	case status >= http.StatusBadRequest:
		return logger.Log.Warn()
	case quietPaths[route]:
		return logger.Log.Debug()
	default:
		return logger.Log.Info()
	}
}
