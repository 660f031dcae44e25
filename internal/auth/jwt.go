package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const clockLeeway = 30 * time.Second

// Claims are the ledger token claims. Routes limits the token to the
// listed route ids; omit it for tenant-wide access.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Role     string   `json:"role"`
	Routes   []string `json:"routes,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts validated claims into a request identity.
func (c *Claims) Identity() Identity {
	role, _ := NormalizeRole(c.Role)
	return Identity{TenantID: c.TenantID, Role: role, Subject: c.Subject, Routes: c.Routes}
}

func (c *Claims) validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return ErrMissingTenant
	}
	if _, ok := NormalizeRole(c.Role); !ok {
		return ErrInvalidRole
	}
	for _, routeID := range c.Routes {
		if strings.TrimSpace(routeID) == "" {
			return ErrInvalidRoutes
		}
	}
	return nil
}

// ParseJWT verifies an HS256 token and returns its claims. Expiry and
// not-before are checked with a small clock leeway.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrUnauthorized
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockLeeway),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	return claims, nil
}
