package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

const (
	// HeaderAdminToken carries the admin secret.
	HeaderAdminToken = "x-admin-token"

	// ContextKeyUsername holds the session owner's username.
	ContextKeyUsername = "username"

	contextKeyUser = "user"
)

// RequireAdmin rejects requests without the admin secret.
func RequireAdmin(guard *auth.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := guard.CheckAdmin(c.GetHeader(HeaderAdminToken)); err != nil {
			log.Warn().
				Str("component", "api").
				Str("path", c.Request.URL.Path).
				Str("remote_addr", c.ClientIP()).
				Msg("Admin authentication failed")
			respondError(c, http.StatusUnauthorized, msgUnauthorizedAdmin)
			return
		}
		c.Next()
	}
}

// RequireSession resolves the bearer session and loads its owner.
func RequireSession(guard *auth.Guard, repos *repository.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		session, err := guard.Authenticate(ctx, auth.BearerToken(c.GetHeader("Authorization")))
		if errors.Is(err, auth.ErrUnauthorized) {
			respondError(c, http.StatusUnauthorized, msgInvalidSession)
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}

		user, err := repos.Users.Get(ctx, session.Username)
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusUnauthorized, msgInvalidSession)
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}

		c.Set(ContextKeyUsername, user.Username)
		c.Set(contextKeyUser, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *repository.User {
	if v, ok := c.Get(contextKeyUser); ok {
		if user, ok := v.(*repository.User); ok {
			return user
		}
	}
	return nil
}
