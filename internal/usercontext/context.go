package usercontext

import (
	"context"

	"github.com/dgellow/signin-gate/internal/idp"
)

type contextKey string

const identityKey contextKey = "auth.identity"

// WithIdentity adds the signed-in user's identity to the context
func WithIdentity(ctx context.Context, identity idp.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the identity from context
func GetIdentity(ctx context.Context) (idp.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(idp.Identity)
	return identity, ok
}
