// Package api implements the JSON control API of the relay: account
// registration and login, the per-user key self-service, and the admin
// endpoints for services, users, usage, logs, and legacy routes.
//
// Every success body has the shape {"ok": true, "item"|"items": ...} and
// every error body is {"error": message}.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/ratelimit"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// Caller-facing messages.
const (
	msgInvalidBody       = "Body JSON tidak valid"
	msgUnauthorizedAdmin = "Unauthorized admin"
	msgTooManyAttempts   = "Terlalu banyak percobaan, coba lagi nanti"
	msgInvalidSession    = "Sesi tidak valid"
	msgBadCredentials    = "Username atau password salah"
	msgNotApproved       = "Akun belum disetujui admin"
	msgUsernameTaken     = "Username sudah digunakan"
	msgInvalidUsername   = "Username tidak valid"
	msgPasswordTooShort  = "Password minimal 6 karakter"
	msgNameRequired      = "name wajib diisi"
	msgInvalidMethod     = "method tidak valid"
	msgInvalidLimit      = "limit tidak valid"
	msgInvalidStatus     = "status tidak valid"
	msgServiceNotFound   = "Service tidak ditemukan"
	msgUserNotFound      = "User tidak ditemukan"
	msgKeyNotFound       = "API key tidak ditemukan"
	msgRouteNotFound     = "Route user tidak ditemukan"
	msgServiceIDRequired = "serviceId wajib diisi"
)

// allowedMethods are the accepted values of a service or route method.
var allowedMethods = map[string]bool{
	repository.MethodAny: true,
	"GET":                true,
	"POST":               true,
	"PUT":                true,
	"PATCH":              true,
	"DELETE":             true,
}

// Options configures a Handler.
type Options struct {
	// LegacyRoutes mounts the /api/admin/routes endpoints
	LegacyRoutes bool

	// AuthLimiter throttles register and login per client IP; nil disables it
	AuthLimiter ratelimit.Limiter

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Handler serves the control API.
type Handler struct {
	repos  *repository.Repositories
	guard  *auth.Guard
	legacy bool
	limit  ratelimit.Limiter
	now    func() time.Time
}

// NewHandler creates a control API handler.
func NewHandler(repos *repository.Repositories, guard *auth.Guard, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		repos:  repos,
		guard:  guard,
		legacy: opts.LegacyRoutes,
		limit:  opts.AuthLimiter,
		now:    opts.Now,
	}
}

// RegisterRoutes mounts the control API under /api on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	authGroup := api.Group("/auth")
	if h.limit != nil {
		authGroup.Use(ratelimit.Middleware(h.limit, msgTooManyAttempts))
	}
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}

	user := api.Group("/user")
	user.Use(RequireSession(h.guard, h.repos))
	{
		user.GET("/me", h.Me)
		user.GET("/services", h.UserServices)
		user.GET("/keys", h.ListKeys)
		user.POST("/keys", h.CreateKey)
		user.DELETE("/keys/:key", h.DeleteKey)
	}

	admin := api.Group("/admin")
	admin.Use(RequireAdmin(h.guard))
	{
		services := admin.Group("/services")
		{
			services.GET("", h.ListServices)
			services.POST("", h.CreateService)
			services.GET("/:id", h.GetService)
			services.PATCH("/:id", h.UpdateService)
			services.DELETE("/:id", h.DeleteService)
		}

		users := admin.Group("/users")
		{
			users.GET("", h.ListUsers)
			users.PATCH("/:username", h.UpdateUserStatus)
			users.DELETE("/:username", h.DeleteUser)
			users.POST("/:username/revoke-sessions", h.RevokeUserSessions)
		}

		admin.GET("/logs", h.ListLogs)
		admin.DELETE("/logs", h.ClearLogs)

		admin.GET("/usage", h.ListUsage)
		admin.DELETE("/usage/:serviceId/:username", h.ResetUsage)

		if h.legacy {
			routes := admin.Group("/routes")
			{
				routes.GET("", h.ListRoutes)
				routes.POST("", h.CreateRoute)
				routes.DELETE("/:id", h.DeleteRoute)
			}
		}
	}
}
