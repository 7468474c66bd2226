package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/repository"
)

func respondItem(c *gin.Context, status int, item any) {
	c.JSON(status, gin.H{"ok": true, "item": item})
}

func respondItems[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func respondOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// bindJSON decodes the request body into dst, answering 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		log.Debug().
			Err(err).
			Str("component", "api").
			Str("path", c.Request.URL.Path).
			Msg("Rejected request body")
		respondError(c, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

// internalError answers 500 with the error message and records a log
// entry without a route id.
func (h *Handler) internalError(c *gin.Context, err error) {
	log.Error().
		Err(err).
		Str("component", "api").
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("Control API request failed")

	if _, logErr := h.repos.Logs.Add(c.Request.Context(), repository.LogEntry{
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
	}); logErr != nil {
		log.Error().Err(logErr).Str("component", "api").Msg("Failed to write error log entry")
	}

	respondError(c, http.StatusInternalServerError, err.Error())
}
