package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/api/v1/reconcile":
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/routes/") &&
		(strings.HasSuffix(path, "/cycles/close") || strings.HasSuffix(path, "/cycles/cancel")):
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/routes/") && strings.HasSuffix(path, "/audit"):
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/cycles/") && strings.Contains(path, "/export."):
		return RoleOperator, true
	case strings.HasPrefix(path, "/api/v1/clients/") && strings.HasSuffix(path, "/carry-over"):
		return RoleAdmin, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}

// RouteFromPath returns the route id of a /api/v1/routes/{id} request.
func RouteFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/routes/")
	if !ok {
		return "", false
	}
	routeID, _, _ := strings.Cut(rest, "/")
	return routeID, routeID != ""
}
