package proxy

import (
	"net"
	"net/http"
	"strings"
)

// hopByHopHeaders apply to a single connection and are never forwarded.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(name)]
}

// connectionTokens returns the extra per-hop header names listed in the
// Connection header.
func connectionTokens(h http.Header) map[string]bool {
	tokens := make(map[string]bool)
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tokens[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	return tokens
}

// copyHeaders appends src to dst, skipping hop-by-hop headers and any
// header named in skip.
func copyHeaders(dst, src http.Header, skip ...string) {
	dropped := connectionTokens(src)
	for _, name := range skip {
		dropped[http.CanonicalHeaderKey(name)] = true
	}

	for name, values := range src {
		if isHopByHopHeader(name) || dropped[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// remoteHost returns the host part of the connection's remote address.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// setForwardedHeaders annotates the upstream request with the caller's
// address and the original host and scheme.
func setForwardedHeaders(out, in *http.Request, requestID string) {
	if ip := remoteHost(in); ip != "" {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			out.Header.Set("X-Forwarded-For", ip)
		}
	}

	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)
	out.Header.Set("X-Forwarded-Host", in.Host)
	out.Header.Set("X-Request-ID", requestID)
}
