package httpx_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newReq(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	return req
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(newReq("192.168.1.1:12345")))
	})

	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		req := newReq("192.168.1.1:12345")
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
		require.Equal(t, "203.0.113.1", httpx.IPKeyExtractor(req))
	})

	t.Run("uses X-Real-IP if X-Forwarded-For absent", func(t *testing.T) {
		req := newReq("192.168.1.1:12345")
		req.Header.Set("X-Real-IP", "203.0.113.2")
		require.Equal(t, "203.0.113.2", httpx.IPKeyExtractor(req))
	})
}

func TestFormFieldKeyExtractor(t *testing.T) {
	t.Run("extracts from POST form", func(t *testing.T) {
		form := url.Values{"username": {"bob"}}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		require.Equal(t, "bob", httpx.FormFieldKeyExtractor("username")(req))
	})

	t.Run("returns empty for missing field", func(t *testing.T) {
		require.Empty(t, httpx.FormFieldKeyExtractor("username")(newReq("1.2.3.4:1")))
	})
}

func TestCookieAndPrincipalExtractors(t *testing.T) {
	req := newReq("10.0.0.1:1")
	require.Empty(t, httpx.CookieKeyExtractor("mfagate_login")(req))
	require.Empty(t, httpx.PrincipalKeyExtractor(req))

	req.AddCookie(&http.Cookie{Name: "mfagate_login", Value: "abc"})
	require.Equal(t, "abc", httpx.CookieKeyExtractor("mfagate_login")(req))

	req = req.WithContext(httpx.WithPrincipal(req.Context(), httpx.Principal{UserID: "u1", SessionID: "s1"}))
	require.Equal(t, "u1", httpx.PrincipalKeyExtractor(req))
}

func TestCompositeKeyExtractor(t *testing.T) {
	extract := httpx.CompositeKeyExtractor(":", httpx.IPKeyExtractor, httpx.FormFieldKeyExtractor("username"))

	req := httptest.NewRequest(http.MethodGet, "/?username=alice", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	require.Equal(t, "192.168.1.1:alice", extract(req))

	require.Equal(t, "192.168.1.1", extract(newReq("192.168.1.1:12345")))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("blocks requests over limit", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(httpx.RateLimitConfig{Requests: 3, Window: time.Minute, Burst: 3}, httpx.IPKeyExtractor)(okHandler)

		for i := range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newReq("192.168.1.1:12345"))
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newReq("192.168.1.1:12345"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, "1m0s", rec.Header().Get("X-RateLimit-Window"))
		require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		h := httpx.RateLimitByIP(httpx.RateLimitConfig{Requests: 1, Window: time.Minute, Burst: 1})(okHandler)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newReq("192.168.1.1:1"))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, newReq("192.168.1.1:1"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, newReq("192.168.1.2:1"))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty key bypasses the limiter", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(httpx.RateLimitConfig{Requests: 1, Window: time.Minute, Burst: 1},
			func(*http.Request) string { return "" })(okHandler)

		for range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newReq("1.1.1.1:1"))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("cookie buckets are independent of address", func(t *testing.T) {
		h := httpx.RateLimitByCookie(httpx.RateLimitConfig{Requests: 1, Window: time.Minute, Burst: 1}, "mfagate_login")(okHandler)

		for _, login := range []string{"a", "b"} {
			req := newReq("192.168.1.1:1")
			req.AddCookie(&http.Cookie{Name: "mfagate_login", Value: login})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, login)
		}

		req := newReq("192.168.1.1:1")
		req.AddCookie(&http.Cookie{Name: "mfagate_login", Value: "a"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestRateLimitProfiles(t *testing.T) {
	for name, cfg := range map[string]httpx.RateLimitConfig{
		"strict":   httpx.StrictLimit,
		"moderate": httpx.ModerateLimit,
		"lenient":  httpx.LenientLimit,
	} {
		require.True(t, cfg.Valid(), name)
	}
	require.Less(t, httpx.StrictLimit.Requests, httpx.ModerateLimit.Requests)
	require.Less(t, httpx.ModerateLimit.Requests, httpx.LenientLimit.Requests)
	require.False(t, httpx.RateLimitConfig{Requests: 1, Burst: 1}.Valid())
}

func BenchmarkRateLimitManyIPs(b *testing.B) {
	h := httpx.RateLimitByIP(httpx.RateLimitConfig{Requests: 1000000, Window: time.Minute, Burst: 1000})(okHandler)

	for i := 0; b.Loop(); i++ {
		req := newReq(fmt.Sprintf("192.168.%d.%d:12345", i%255, (i/255)%255))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
