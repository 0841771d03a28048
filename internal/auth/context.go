// ABOUTME: Identity carried through request handlers via context
// ABOUTME: Provides WithIdentity/FromContext for the HTTP and WebSocket layers

package auth

import (
	"context"
	"slices"
)

// Identity is the authenticated user behind a request or connection.
type Identity struct {
	UserID    string
	Name      string
	Roles     []string
	Anonymous bool // identity was asserted by the client, not verified
}

// IsAdmin returns true if the identity has admin or owner role.
func (i *Identity) IsAdmin() bool {
	return slices.Contains(i.Roles, "admin") || slices.Contains(i.Roles, "owner")
}

type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
