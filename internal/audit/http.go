package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestMeta is the transport context recorded with an audit entry.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// FromRequest reads the caller address, user agent and chi request id.
func FromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// Stamp copies the request context onto e.
func (m RequestMeta) Stamp(e Entry) Entry {
	e.IP = m.IP
	e.UserAgent = m.UserAgent
	e.RequestID = m.RequestID
	return e
}

// clientIP prefers the proxy headers, first Forwarded then
// X-Forwarded-For then X-Real-IP, and skips values that are not addresses.
func clientIP(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Forwarded"), ",") {
		for _, pair := range strings.Split(part, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && strings.EqualFold(key, "for") {
				if ip := parseIP(strings.Trim(value, `"`)); ip != "" {
					return ip
				}
			}
		}
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(hop); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := parseIP(r.RemoteAddr); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// parseIP accepts a bare address, host:port or [v6]:port.
func parseIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	value = strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
	if ip := net.ParseIP(value); ip != nil {
		return ip.String()
	}
	return ""
}
