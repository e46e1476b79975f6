package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
)

type ctxKey struct{}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// Middleware rejects requests without a valid "Authorization: Bearer" token.
func Middleware(v Verifier) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "auth.Middleware"

			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.WriteErrorStatus(w, http.StatusUnauthorized, apperr.Unauthorized(op, "missing bearer token"))
				return
			}
			claims, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				httpx.WriteErrorStatus(w, http.StatusUnauthorized, apperr.Unauthorized(op, "invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}
