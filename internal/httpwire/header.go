// Package httpwire holds small, dependency-free helpers for working with
// raw HTTP request/response framing - used by the health checker's raw TCP
// probes and by the proxy engine's hop-by-hop header stripping (spec.md
// §4.C2).
package httpwire

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// hopByHop lists the RFC 7230 §6.1 connection-specific headers that must
// never be forwarded across a proxy hop, plus whatever the client names in
// its own Connection header (RFC 7230 §6.1 also requires removing those).
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// IsHopByHop reports whether header is a connection-specific header that
// must be stripped before forwarding, per RFC 7230 §6.1.
func IsHopByHop(header string) bool {
	_, ok := hopByHop[http.CanonicalHeaderKey(header)]
	return ok
}

// StripHopByHop removes both the standard hop-by-hop set and any headers
// the client additionally named in its own Connection header, returning a
// new http.Header so the caller's original is left untouched.
func StripHopByHop(in http.Header) http.Header {
	out := make(http.Header, len(in))

	extra := make(map[string]struct{})
	for _, token := range in.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			extra[http.CanonicalHeaderKey(strings.TrimSpace(name))] = struct{}{}
		}
	}

	for name, values := range in {
		canonical := http.CanonicalHeaderKey(name)
		if _, ok := hopByHop[canonical]; ok {
			continue
		}
		if _, ok := extra[canonical]; ok {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	return out
}

// ParseStatusLine parses "HTTP/1.1 200 OK" into its protocol, status code
// and reason phrase, used by the TCP-level health probe that reads a raw
// response without going through net/http's client.
func ParseStatusLine(line string) (proto string, statusCode int, reason string, err error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("httpwire: malformed status line %q", line)
	}

	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, "", fmt.Errorf("httpwire: invalid status code in %q: %w", line, convErr)
	}

	reason = ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, nil
}

// BuildRequestLine formats the request line for a raw HTTP/1.1 probe, e.g.
// "GET /healthz HTTP/1.1".
func BuildRequestLine(method, path string) string {
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s HTTP/1.1", method, path)
}
