package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/cors"
	"github.com/saidutt46/switchboard-relay/internal/quota"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// Caller-facing relay messages.
const (
	msgServiceNotFound  = "Service tidak ditemukan"
	msgAPIKeyRequired   = "API key wajib diisi"
	msgAPIKeyInvalid    = "API key tidak valid"
	msgNotApproved      = "Akun belum disetujui"
	msgQuotaExhausted   = "Kuota penggunaan habis"
	msgUpstreamFailed   = "Gagal terhubung ke API tujuan"
	msgRouteNotFound    = "Route user tidak ditemukan"
	msgUserTokenInvalid = "Unauthorized user token"
)

const (
	headerAPIKey    = "x-api-key"
	headerUserToken = "x-user-token"

	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"

	// DefaultMaxReplayBody is the largest request body kept in memory so a
	// 307/308 redirect can resend it.
	DefaultMaxReplayBody int64 = 10 << 20
)

// Config configures a Dispatcher.
type Config struct {
	Client *http.Client

	// LegacyRoutes enables the token-route fallback
	LegacyRoutes bool

	CORS *cors.Policy

	// MaxReplayBody caps the buffered request body; larger bodies are
	// streamed and 307/308 responses to them are relayed as-is
	MaxReplayBody int64
}

// Dispatcher serves ANY /u/{serviceId}.
type Dispatcher struct {
	repos  *repository.Repositories
	guard  *auth.Guard
	quota  *quota.Tracker
	client *http.Client
	cors   *cors.Policy
	legacy bool

	maxReplay int64
}

// NewDispatcher wires the relay state machine.
func NewDispatcher(repos *repository.Repositories, guard *auth.Guard, tracker *quota.Tracker, cfg Config) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = NewClient(DefaultTransportConfig())
	}
	if cfg.CORS == nil {
		cfg.CORS = cors.Default
	}
	if cfg.MaxReplayBody <= 0 {
		cfg.MaxReplayBody = DefaultMaxReplayBody
	}

	return &Dispatcher{
		repos:  repos,
		guard:  guard,
		quota:  tracker,
		client: cfg.Client,
		cors:   cfg.CORS,
		legacy: cfg.LegacyRoutes,

		maxReplay: cfg.MaxReplayBody,
	}
}

// upstreamCall describes one relay attempt.
type upstreamCall struct {
	routeID   string
	targetURL string

	// credential header consumed by the relay, never forwarded
	credential string

	// nil when the target has no quota
	decision *quota.Decision
}

// Handle runs the relay state machine for the serviceId path parameter.
// Any path after the id is ignored.
func (d *Dispatcher) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := requestIDFor(c)
	c.Header("X-Request-ID", requestID)

	serviceID := c.Param("serviceId")

	svc, err := d.repos.Services.Get(ctx, serviceID)
	if errors.Is(err, repository.ErrNotFound) {
		if d.legacy {
			d.handleLegacy(c, serviceID, requestID)
			return
		}
		abortJSON(c, http.StatusNotFound, msgServiceNotFound)
		return
	}
	if err != nil {
		d.internalError(c, err)
		return
	}
	if !svc.Active {
		abortJSON(c, http.StatusNotFound, msgServiceNotFound)
		return
	}

	_, user, err := d.guard.AuthorizeKey(ctx, svc.ID, c.GetHeader(headerAPIKey))
	switch {
	case errors.Is(err, auth.ErrMissingAPIKey):
		abortJSON(c, http.StatusUnauthorized, msgAPIKeyRequired)
		return
	case errors.Is(err, auth.ErrInvalidAPIKey):
		abortJSON(c, http.StatusUnauthorized, msgAPIKeyInvalid)
		return
	case errors.Is(err, auth.ErrNotApproved):
		abortJSON(c, http.StatusForbidden, msgNotApproved)
		return
	case err != nil:
		d.internalError(c, err)
		return
	}

	decision, err := d.quota.Acquire(ctx, svc.ID, user.Username, svc.Limit)
	if err != nil {
		d.internalError(c, err)
		return
	}
	if !decision.Allowed {
		log.Info().
			Str("component", "proxy").
			Str("request_id", requestID).
			Str("service_id", svc.ID).
			Str("username", user.Username).
			Int64("limit", svc.Limit).
			Msg("Quota exhausted")

		decision.SetHeaders(c.Writer.Header())
		abortJSON(c, http.StatusTooManyRequests, msgQuotaExhausted)
		return
	}

	d.relay(c, requestID, upstreamCall{
		routeID:    svc.ID,
		targetURL:  svc.TargetURL,
		credential: headerAPIKey,
		decision:   &decision,
	})
}

// relay performs the upstream attempt and writes the response. Log
// entries and usage are written before the first response byte.
func (d *Dispatcher) relay(c *gin.Context, requestID string, call upstreamCall) {
	ctx := c.Request.Context()

	upstreamStart := time.Now()
	resp, err := d.forward(ctx, c.Request, call, requestID)
	latency := time.Since(upstreamStart)

	if err != nil {
		log.Error().
			Err(err).
			Str("component", "proxy").
			Str("request_id", requestID).
			Str("route_id", call.routeID).
			Str("target_url", call.targetURL).
			Msg("Upstream request failed")

		d.addLog(ctx, call, http.StatusBadGateway, err.Error())
		d.settle(ctx, call, false)
		abortJSON(c, http.StatusBadGateway, msgUpstreamFailed)
		return
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		d.addLog(ctx, call, resp.StatusCode, fmt.Sprintf("Upstream returned %d", resp.StatusCode))
	}
	decision := d.settle(ctx, call, success)

	header := c.Writer.Header()
	copyHeaders(header, resp.Header)
	d.cors.Apply(header, c.GetHeader("Origin"))
	if decision != nil {
		decision.SetHeaders(header)
	}
	header.Set("X-Request-ID", requestID)
	header.Set("X-Upstream-Latency", fmt.Sprintf("%dms", latency.Milliseconds()))

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	written, err := io.Copy(c.Writer, resp.Body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "proxy").
			Str("request_id", requestID).
			Int64("bytes_written", written).
			Msg("Response body copy interrupted")
	}

	log.Debug().
		Str("component", "proxy").
		Str("request_id", requestID).
		Str("route_id", call.routeID).
		Int("status_code", resp.StatusCode).
		Dur("upstream_latency", latency).
		Msg("Request relayed")
}

// forward builds and sends the upstream request.
func (d *Dispatcher) forward(ctx context.Context, in *http.Request, call upstreamCall, requestID string) (*http.Response, error) {
	target, err := mergeQuery(call.targetURL, in.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	body, replayable, err := d.outboundBody(in)
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	if body != nil && !replayable {
		out.ContentLength = in.ContentLength
	}

	copyHeaders(out.Header, in.Header, call.credential, "Host")
	setForwardedHeaders(out, in, requestID)

	return d.client.Do(out)
}

// outboundBody returns the body to send upstream. Bodies up to maxReplay
// bytes are buffered into a *bytes.Reader, which lets net/http set GetBody
// and resend them on a 307/308 redirect. GET and HEAD carry no body.
func (d *Dispatcher) outboundBody(in *http.Request) (io.Reader, bool, error) {
	if in.Method == http.MethodGet || in.Method == http.MethodHead || in.Body == nil || in.Body == http.NoBody {
		return nil, false, nil
	}

	buf, err := io.ReadAll(io.LimitReader(in.Body, d.maxReplay+1))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(buf)) > d.maxReplay {
		return io.MultiReader(bytes.NewReader(buf), in.Body), false, nil
	}
	return bytes.NewReader(buf), true, nil
}

func (d *Dispatcher) settle(ctx context.Context, call upstreamCall, success bool) *quota.Decision {
	if call.decision == nil {
		return nil
	}
	decision, err := d.quota.Settle(ctx, *call.decision, success)
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "proxy").
			Str("route_id", call.routeID).
			Bool("success", success).
			Msg("Failed to settle usage")
	}
	return &decision
}

func (d *Dispatcher) addLog(ctx context.Context, call upstreamCall, status int, message string) {
	_, err := d.repos.Logs.Add(ctx, repository.LogEntry{
		RouteID:   call.routeID,
		TargetURL: call.targetURL,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "proxy").
			Str("route_id", call.routeID).
			Msg("Failed to write relay log entry")
	}
}

// internalError answers 500 and records an entry with no route id.
func (d *Dispatcher) internalError(c *gin.Context, err error) {
	log.Error().
		Err(err).
		Str("component", "proxy").
		Str("path", c.Request.URL.Path).
		Msg("Relay internal error")

	if _, logErr := d.repos.Logs.Add(c.Request.Context(), repository.LogEntry{
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
	}); logErr != nil {
		log.Error().Err(logErr).Str("component", "proxy").Msg("Failed to write internal error log entry")
	}

	abortJSON(c, http.StatusInternalServerError, err.Error())
}

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func requestIDFor(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(RequestIDKey, id)
	return id
}
