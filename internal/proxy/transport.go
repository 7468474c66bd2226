// Package proxy relays caller requests to registered upstream services.
//
// The Dispatcher implements the /u/{serviceId} state machine: service
// lookup, API key and approval checks, quota admission, one upstream
// attempt, failure logging, usage accounting, and streaming the upstream
// response back to the caller. When legacy routes are enabled it falls
// back to token-protected routes for ids that match no service.
package proxy

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// maxRedirects matches the net/http default.
const maxRedirects = 10

// TransportConfig holds settings for the pooled upstream transport.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration

	// RequestTimeout bounds one upstream attempt including redirects and
	// reading the response body
	RequestTimeout time.Duration

	InsecureSkipVerify bool
}

// DefaultTransportConfig returns pool and timeout defaults for upstream calls.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     100,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// NewClient builds the upstream HTTP client: a pooled transport with
// keep-alive, compression passthrough, and redirect following.
func NewClient(cfg TransportConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,

		// bodies are relayed byte-for-byte, encoding included
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}

	log.Info().
		Str("component", "proxy").
		Int("max_idle_conns", cfg.MaxIdleConns).
		Int("max_idle_conns_per_host", cfg.MaxIdleConnsPerHost).
		Dur("request_timeout", cfg.RequestTimeout).
		Msg("Upstream HTTP client configured")

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}
