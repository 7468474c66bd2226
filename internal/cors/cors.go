// Package cors applies the relay's Cross-Origin Resource Sharing policy.
//
// The same header set is written on every response: control API replies,
// error bodies, and relayed upstream responses (where it overrides any
// CORS headers the upstream sent). Preflight OPTIONS requests on any path
// are answered with 204 and never reach a handler.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Config holds the CORS policy.
type Config struct {
	// AllowedOrigins is a list of allowed origins; ["*"] allows all
	AllowedOrigins []string

	AllowedMethods []string
	AllowedHeaders []string

	// ExposedHeaders can be read by browser JavaScript
	ExposedHeaders []string

	// MaxAge is how long (in seconds) preflight results can be cached
	MaxAge int
}

// DefaultConfig returns the relay policy: any origin, the control API
// methods, and the credential headers used by the relay.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"content-type", "authorization", "x-admin-token", "x-api-key", "x-user-token"},
		ExposedHeaders: []string{"X-Request-ID", "X-Upstream-Latency", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         86400,
	}
}

// Policy is a compiled Config.
type Policy struct {
	wildcard bool
	origins  map[string]bool
	methods  string
	headers  string
	exposed  string
	maxAge   string
}

// New compiles cfg.
func New(cfg Config) *Policy {
	p := &Policy{
		origins: make(map[string]bool, len(cfg.AllowedOrigins)),
		methods: strings.Join(cfg.AllowedMethods, ","),
		headers: strings.Join(cfg.AllowedHeaders, ","),
		exposed: strings.Join(cfg.ExposedHeaders, ","),
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.wildcard = true
		}
		p.origins[o] = true
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// Default is the compiled DefaultConfig.
var Default = New(DefaultConfig())

// Apply overwrites the CORS headers in h for a request from origin.
func (p *Policy) Apply(h http.Header, origin string) {
	switch {
	case p.wildcard:
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && p.origins[origin]:
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		h.Del("Access-Control-Allow-Origin")
	}

	if p.methods != "" {
		h.Set("Access-Control-Allow-Methods", p.methods)
	}
	if p.headers != "" {
		h.Set("Access-Control-Allow-Headers", p.headers)
	}
	if p.exposed != "" {
		h.Set("Access-Control-Expose-Headers", p.exposed)
	}
}

// Middleware writes the CORS headers before the handler runs and
// short-circuits preflight requests with 204.
func (p *Policy) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.Apply(c.Writer.Header(), c.GetHeader("Origin"))

		if c.Request.Method == http.MethodOptions {
			if p.maxAge != "" {
				c.Header("Access-Control-Max-Age", p.maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
