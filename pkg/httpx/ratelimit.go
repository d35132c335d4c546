package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/mfagate/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines a token bucket: Requests per Window, refilled
// continuously, with Burst tokens available at once.
type RateLimitConfig struct {
	Requests int           `env:"REQUESTS"`
	Window   time.Duration `env:"WINDOW"`
	Burst    int           `env:"BURST"`
}

// Default profiles. The app layer may override them from the environment.
var (
	// StrictLimit guards credential submissions (password, codes, assertions).
	StrictLimit = RateLimitConfig{Requests: 5, Window: time.Minute, Burst: 5}

	// ModerateLimit guards authenticated reads and form rendering.
	ModerateLimit = RateLimitConfig{Requests: 30, Window: time.Minute, Burst: 30}

	// LenientLimit guards health and metrics endpoints.
	LenientLimit = RateLimitConfig{Requests: 300, Window: time.Minute, Burst: 300}
)

// Valid reports whether every parameter is positive.
func (c RateLimitConfig) Valid() bool {
	return c.Requests > 0 && c.Window > 0 && c.Burst > 0
}

// KeyExtractor groups requests into buckets. An empty key bypasses limiting.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor extracts the client IP address from the request.
// It honours X-Forwarded-For and X-Real-IP set by a fronting proxy.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// PrincipalKeyExtractor keys on the authenticated user, if any.
func PrincipalKeyExtractor(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.UserID
	}
	return ""
}

// CookieKeyExtractor keys on the raw value of a cookie, so every pending
// login gets its own bucket regardless of the client address.
func CookieKeyExtractor(name string) KeyExtractor {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

// FormFieldKeyExtractor keys on a form field from the query or POST body.
func FormFieldKeyExtractor(field string) KeyExtractor {
	return func(r *http.Request) string {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return r.FormValue(field)
	}
}

// CompositeKeyExtractor joins the non-empty keys of extractors with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, extract := range extractors {
			if key := extract(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	swept   time.Time
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.swept) > s.idleTTL {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.idleTTL {
				delete(s.buckets, k)
			}
		}
		s.swept = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimitMiddleware rejects requests with 429 once the bucket selected by
// extract is empty.
func RateLimitMiddleware(cfg RateLimitConfig, extract KeyExtractor) Middleware {
	set := &limiterSet{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:   cfg.Burst,
		idleTTL: max(cfg.Window, 5*time.Minute),
		swept:   time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := extract(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := set.get(key, time.Now())
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := limiter.Reserve()
			retryAfter := max(int(res.Delay().Seconds()), 1)
			res.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			log.Warn("rate limit exceeded", "endpoint", r.URL.Path, "retry_after", retryAfter)
			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, try again later")
		})
	}
}

// RateLimitByIP limits by client address only.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, IPKeyExtractor)
}

// RateLimitByIPAndFormField limits by client address plus a form field,
// e.g. the username on primary login.
func RateLimitByIPAndFormField(cfg RateLimitConfig, field string) Middleware {
	return RateLimitMiddleware(cfg, CompositeKeyExtractor(":", IPKeyExtractor, FormFieldKeyExtractor(field)))
}

// RateLimitByCookie limits by a cookie value, falling back to the client
// address when the cookie is absent.
func RateLimitByCookie(cfg RateLimitConfig, name string) Middleware {
	return RateLimitMiddleware(cfg, func(r *http.Request) string {
		if key := CookieKeyExtractor(name)(r); key != "" {
			return "c:" + key
		}
		return "ip:" + IPKeyExtractor(r)
	})
}

// RateLimitByPrincipal limits by authenticated user, falling back to IP.
func RateLimitByPrincipal(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, func(r *http.Request) string {
		if key := PrincipalKeyExtractor(r); key != "" {
			return "u:" + key
		}
		return "ip:" + IPKeyExtractor(r)
	})
}
