package httpapi

import (
	"context"

	"github.com/tradojo/booking/booking"
)

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   booking.Role
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
