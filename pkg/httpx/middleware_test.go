package httpx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	tag := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		trace = append(trace, "handler")
	}), tag("outer"), tag("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

type resolverFunc func(ctx context.Context, token string) (httpx.Principal, error)

func (f resolverFunc) ResolveSession(ctx context.Context, token string) (httpx.Principal, error) {
	return f(ctx, token)
}

func TestCookieAuthnMiddleware(t *testing.T) {
	resolver := resolverFunc(func(_ context.Context, token string) (httpx.Principal, error) {
		if token != "good" {
			return httpx.Principal{}, errors.New("nope")
		}
		return httpx.Principal{UserID: "u1", SessionID: "s1"}, nil
	})

	var seen httpx.Principal
	h := httpx.CookieAuthnMiddleware("mfagate_session", resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = httpx.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "login_required")
	})

	t.Run("rejected cookie is cleared", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "mfagate_session", Value: "bad"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.True(t, strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0"))
	})

	t.Run("valid cookie injects principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "mfagate_session", Value: "good"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, httpx.Principal{UserID: "u1", SessionID: "s1"}, seen)
	})
}
