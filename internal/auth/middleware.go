package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger logrus.FieldLogger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Logger: logrus.StandardLogger()}
}

// Wrap authenticates the bearer token, then checks the role floor and the
// token's route scope. It has the shape of a chi middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			m.deny(w, r, Identity{}, err)
			return
		}
		id := claims.Identity()
		if err := authorize(r, id, required); err != nil {
			m.deny(w, r, id, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// authorize checks the role floor and, for route paths, the token's
// route scope.
func authorize(r *http.Request, id Identity, required Role) error {
	if !RoleAtLeast(id.Role, required) {
		return ErrForbidden
	}
	if routeID, ok := RouteFromPath(r.URL.Path); ok && !id.CanAccessRoute(routeID) {
		return fmt.Errorf("%w: %s", ErrRouteForbidden, routeID)
	}
	return nil
}

func (m *Middleware) deny(w http.ResponseWriter, r *http.Request, id Identity, err error) {
	status := StatusCode(err)
	if m.Logger != nil {
		m.Logger.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"subject": id.Subject,
			"status":  status,
		}).WithError(err).Debug("request denied")
	}
	http.Error(w, strings.ToLower(http.StatusText(status)), status)
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
