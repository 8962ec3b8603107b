// Package authctx carries authenticated token claims through a request context.
package authctx

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tvkeeper/internal/token"
)

type ctxKey string

const claimsKey ctxKey = "tvk.claims"

// WithClaims stores authenticated claims in context.
func WithClaims(ctx context.Context, c token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches claims from context.
func ClaimsFromCtx(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(token.Claims)
	return c, ok
}

// UserIDFromCtx fetches the authenticated subject ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := c.UserID()
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
