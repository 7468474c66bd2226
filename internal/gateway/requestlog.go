package gateway

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/proxy"
)

// RequestLogConfig configures the request logging middleware.
type RequestLogConfig struct {
	// LogHeaders adds request headers to the log, with credentials redacted.
	LogHeaders bool

	// LogQueryParams adds the raw query string.
	LogQueryParams bool

	// ExcludedPaths are never logged.
	ExcludedPaths []string
}

// DefaultRequestLogConfig returns production defaults.
func DefaultRequestLogConfig() RequestLogConfig {
	return RequestLogConfig{
		LogHeaders:     false,
		LogQueryParams: true,
		ExcludedPaths:  []string{"/health", "/ready"},
	}
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-admin-token":       true,
	"x-user-token":        true,
	"x-auth-token":        true,
	"x-access-token":      true,
}

func isSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(name)]
}

// RequestLogger assigns every request an id and logs its outcome. An
// inbound X-Request-ID is kept.
func RequestLogger(cfg RequestLogConfig) gin.HandlerFunc {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(proxy.RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if excluded[path] {
			return
		}

		status := c.Writer.Status()
		var event *zerolog.Event
		var message string
		switch {
		case status >= 500:
			event = log.Error()
			message = "Request failed with 5xx error"
		case status >= 400:
			event = log.Warn()
			message = "Request completed with client error"
		default:
			event = log.Info()
			message = "Request completed successfully"
		}

		event = event.
			Str("component", "http").
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status_code", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("response_size", c.Writer.Size()).
			Str("remote_addr", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())

		if cfg.LogQueryParams && c.Request.URL.RawQuery != "" {
			event = event.Str("query", c.Request.URL.RawQuery)
		}
		if cfg.LogHeaders {
			event = event.Interface("headers", redactHeaders(c.Request.Header))
		}

		event.Msg(message)
	}
}

// redactHeaders flattens headers for logging with credentials masked.
func redactHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if isSensitiveHeader(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
