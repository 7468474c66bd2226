package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidTarget is returned for unparsable or relative target URLs.
	ErrInvalidTarget = errors.New("targetUrl tidak valid")

	// ErrUnsupportedProtocol is returned for targets that are not http(s).
	ErrUnsupportedProtocol = errors.New("Protocol target wajib http/https")
)

// NormalizeTarget validates an upstream URL and returns its canonical
// form: lower-case scheme and host, and "/" when the path is empty.
func NormalizeTarget(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return "", ErrInvalidTarget
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedProtocol
	}
	if u.Host == "" || u.Opaque != "" {
		return "", ErrInvalidTarget
	}

	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// mergeQuery overlays the raw inbound query onto the target URL's own
// query. Inbound pairs replace target pairs with the same key; every other
// target pair is kept byte for byte and in order.
func mergeQuery(target, inbound string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target url: %w", err)
	}

	inboundPairs := splitQuery(inbound)
	if len(inboundPairs) == 0 {
		return u.String(), nil
	}

	overridden := make(map[string]bool, len(inboundPairs))
	for _, p := range inboundPairs {
		overridden[p.key] = true
	}

	merged := make([]string, 0, len(inboundPairs))
	for _, p := range splitQuery(u.RawQuery) {
		if !overridden[p.key] {
			merged = append(merged, p.raw)
		}
	}
	for _, p := range inboundPairs {
		merged = append(merged, p.raw)
	}

	u.RawQuery = strings.Join(merged, "&")
	return u.String(), nil
}

type queryPair struct {
	key string // decoded
	raw string
}

// splitQuery splits a raw query into its pairs without re-encoding them.
func splitQuery(raw string) []queryPair {
	var pairs []queryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		pairs = append(pairs, queryPair{key: key, raw: part})
	}
	return pairs
}
