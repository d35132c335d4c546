package httpx

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// SessionResolver maps a raw session cookie value to a live principal.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (Principal, error)
}

// CookieAuthnMiddleware requires a valid session cookie and injects the
// resolved Principal into the request context.
func CookieAuthnMiddleware(cookieName string, resolver SessionResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				WriteError(w, http.StatusUnauthorized, "login_required", "a valid session is required")
				return
			}

			p, err := resolver.ResolveSession(ctx, c.Value)
			if err != nil {
				log.Warn("session cookie rejected", "err", err)
				ClearCookie(w, cookieName)
				WriteError(w, http.StatusUnauthorized, "login_required", "a valid session is required")
				return
			}

			ctx = WithPrincipal(ctx, p)
			ctx = slogx.WithContext(ctx, log.With("user_id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
