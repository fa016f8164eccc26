package auth

import (
	"context"

	"github.com/btouchard/switchboard/internal/model"
)

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (model.Principal, error) {
	p, ok := ctx.Value(ctxKey{}).(model.Principal)
	if !ok || !p.Role.Valid() || p.UserID == "" {
		return model.Principal{}, ErrNoPrincipal
	}
	return p, nil
}
