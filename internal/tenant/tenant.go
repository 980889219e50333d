// Package tenant holds the API tenants configured for the hub.
package tenant

import "context"

// Tenant is a client organization. Spaces are owned by tenants.
type Tenant struct {
	ID      string
	Name    string
	APIKeys []APIKey
}

// APIKey is the stored form of an API key: its hex SHA-256 hash.
type APIKey struct {
	KeyHash     string
	Description string
}

type contextKey struct{}

// WithTenant returns a copy of ctx carrying t.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the tenant of the request, or nil.
func FromContext(ctx context.Context) *Tenant {
	t, _ := ctx.Value(contextKey{}).(*Tenant)
	return t
}
