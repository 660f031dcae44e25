package auth

import (
	"context"
	"slices"
)

// Identity is the authenticated caller of a ledger request. Routes scopes
// the caller to the listed routes; an empty list grants every route.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
	Routes   []string
}

// CanAccessRoute reports whether the identity may act on routeID.
func (i Identity) CanAccessRoute(routeID string) bool {
	if len(i.Routes) == 0 {
		return true
	}
	return slices.Contains(i.Routes, routeID)
}

// Scoped reports whether the identity is limited to specific routes.
func (i Identity) Scoped() bool { return len(i.Routes) > 0 }

type identityKey struct{}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	id.Routes = slices.Clone(id.Routes)
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantIDFromContext returns the caller's tenant, or "".
func TenantIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.TenantID
}

// RoleFromContext returns the caller's role, or "".
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// SubjectFromContext returns the caller's subject, or "".
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// RoutesFromContext returns the caller's route scope; nil means unscoped.
func RoutesFromContext(ctx context.Context) []string {
	id, _ := IdentityFromContext(ctx)
	return slices.Clone(id.Routes)
}

// CanAccessRoute reports whether the caller in ctx may act on routeID.
// Requests without an identity are not route-scoped.
func CanAccessRoute(ctx context.Context, routeID string) bool {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return true
	}
	return id.CanAccessRoute(routeID)
}
