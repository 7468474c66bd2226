package gateway

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// Recovery turns a panic into 500 {"error": msg} and records a log entry
// with an empty route id.
func Recovery(logs *repository.LogRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			message := fmt.Sprint(recovered)
			if err, ok := recovered.(error); ok {
				message = err.Error()
			}

			log.Error().
				Str("component", "http").
				Str("request_id", c.GetString(proxy.RequestIDKey)).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Interface("panic", recovered).
				Str("stack", string(debug.Stack())).
				Msg("Panic recovered")

			if _, err := logs.Add(c.Request.Context(), repository.LogEntry{
				Status:  http.StatusInternalServerError,
				Message: message,
			}); err != nil {
				log.Error().Err(err).Str("component", "http").Msg("Failed to write panic log entry")
			}

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": message})
		}()

		c.Next()
	}
}
