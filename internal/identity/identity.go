// Package identity derives a per-client key for anonymous chat clients.
// Clients are not authenticated; the key only scopes rate limiting and logs.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// ClientHeaderName lets a browser tab identify itself beyond its IP.
const ClientHeaderName = "X-Assist-Client-ID"

type contextKey int

const clientKeyKey contextKey = iota

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ClientKeyFromContext returns the key injected by Middleware, or "".
func ClientKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientKeyKey).(string); ok {
		return v
	}
	return ""
}

// WithClientKey returns a context carrying key.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyKey, key)
}

// Middleware injects the client key. The key is the remote IP, so clients
// cannot escape throttling by rotating the optional client header; the header
// is only attached for tracing.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientKey(r.Context(), IPFromRequest(r))))
	})
}

// ClientIDFromRequest returns the sanitized client header, or "".
func ClientIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(ClientHeaderName))
	if !clientIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
