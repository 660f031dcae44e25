package auth

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized   = errors.New("auth: missing bearer token")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrMissingTenant  = errors.New("auth: token has no tenant_id")
	ErrInvalidRole    = errors.New("auth: token role is not a ledger role")
	ErrInvalidRoutes  = errors.New("auth: token routes claim has an empty route id")
	ErrForbidden      = errors.New("auth: role not allowed")
	ErrRouteForbidden = errors.New("auth: route outside token scope")
)

// StatusCode maps an auth error to the HTTP status the middleware answers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrRouteForbidden):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
