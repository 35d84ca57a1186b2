package auth

import (
	"context"

	"github.com/coverbridge/auth-service/internal/audit"
)

type originContextKey struct{}

// WithOrigin attaches request origin metadata to ctx. The HTTP layer sets it
// once per request; every audit record the flows produce carries it.
func WithOrigin(ctx context.Context, o audit.Origin) context.Context {
	return context.WithValue(ctx, originContextKey{}, o)
}

// OriginFrom returns the attached origin, or a zero value when the call did
// not come through the HTTP boundary.
func OriginFrom(ctx context.Context) audit.Origin {
	if ctx == nil {
		return audit.Origin{}
	}
	o, _ := ctx.Value(originContextKey{}).(audit.Origin)
	return o
}
