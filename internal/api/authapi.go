package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates a PENDING account.
func (h *Handler) Register(c *gin.Context) {
	var req CredentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.guard.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, repository.ErrUsernameTaken):
		respondError(c, http.StatusBadRequest, msgUsernameTaken)
		return
	case errors.Is(err, repository.ErrInvalidUsername):
		respondError(c, http.StatusBadRequest, msgInvalidUsername)
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		respondError(c, http.StatusBadRequest, msgPasswordTooShort)
		return
	case err != nil:
		h.internalError(c, err)
		return
	}

	respondItem(c, http.StatusCreated, user.Public())
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(c *gin.Context) {
	var req CredentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.guard.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrNotApproved):
		respondError(c, http.StatusForbidden, msgNotApproved)
		return
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(c, http.StatusUnauthorized, msgBadCredentials)
		return
	case err != nil:
		h.internalError(c, err)
		return
	}

	respondItem(c, http.StatusOK, session)
}
