package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ByClientIP keys requests by the caller's address under prefix. The router
// runs chi's RealIP middleware first, so RemoteAddr already reflects proxies.
func ByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + clientIP(r)
	}
}

// ByURLParam keys requests by a chi route parameter, falling back to the
// client address when the parameter is absent.
func ByURLParam(prefix, param string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := chi.URLParam(r, param); v != "" {
			return prefix + v
		}
		return prefix + clientIP(r)
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
