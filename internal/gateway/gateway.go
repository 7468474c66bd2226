// Package gateway assembles the relay's HTTP engine: the engine-wide
// middleware, the control API, the /u/{serviceId} relay route, the health
// endpoints, and the catch-all 404.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/api"
	"github.com/saidutt46/switchboard-relay/internal/cors"
	"github.com/saidutt46/switchboard-relay/internal/health"
	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

const msgEndpointNotFound = "Endpoint tidak ditemukan"

// Options configures the engine.
type Options struct {
	Version    string
	CORS       *cors.Policy
	RequestLog RequestLogConfig

	// TrustedProxies are the peers whose X-Forwarded-For decides the client
	// IP. With none, the client IP is always the socket peer.
	TrustedProxies []string
}

// Gateway owns the HTTP engine.
type Gateway struct {
	engine  *gin.Engine
	version string
}

// New builds the engine from its components.
func New(repos *repository.Repositories, control *api.Handler, relay *proxy.Dispatcher, checks *health.Handler, opts Options) (*Gateway, error) {
	if opts.CORS == nil {
		opts.CORS = cors.Default
	}
	if opts.RequestLog.ExcludedPaths == nil {
		opts.RequestLog = DefaultRequestLogConfig()
	}

	g := &Gateway{
		engine:  gin.New(),
		version: opts.Version,
	}
	if err := g.engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	g.engine.Use(
		RequestLogger(opts.RequestLog),
		Recovery(repos.Logs),
		opts.CORS.Middleware(),
	)

	g.engine.GET("/", g.banner)
	g.engine.GET("/health", gin.WrapF(checks.Health))
	g.engine.GET("/ready", gin.WrapF(checks.Ready))

	control.RegisterRoutes(g.engine)

	g.engine.Any("/u/:serviceId", relay.Handle)
	g.engine.Any("/u/:serviceId/*rest", relay.Handle)

	g.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgEndpointNotFound})
	})

	log.Info().
		Str("component", "gateway").
		Int("routes", len(g.engine.Routes())).
		Int("trusted_proxies", len(opts.TrustedProxies)).
		Msg("HTTP engine assembled")

	return g, nil
}

// Handler returns the engine as an http.Handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

func (g *Gateway) banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": "Switchboard Relay",
		"version": g.version,
		"status":  "running",
	})
}
