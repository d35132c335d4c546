package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/metrics"
	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// Limits are the rate limit profiles applied per route class.
type Limits struct {
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Lenient  httpx.RateLimitConfig
}

// DefaultLimits returns the httpx profiles.
func DefaultLimits() Limits {
	return Limits{
		Strict:   httpx.StrictLimit,
		Moderate: httpx.ModerateLimit,
		Lenient:  httpx.LenientLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store      store.Store
	challenges store.Challenges

	Limits  Limits
	Cookies httpx.CookieOptions
	Metrics *metrics.Metrics

	Sessions              *service.SessionService
	LoginService          *service.LoginService
	AuthenticateService   *service.AuthenticateService
	ReauthenticateService *service.ReauthenticateService
	IndexService          *service.IndexService
}

// NewRouter returns a router with the default limits. challenges may be nil
// when they live in the primary store.
func NewRouter(buildVersion string, st store.Store, challenges store.Challenges, logger *slog.Logger) *Router {
	if challenges == nil {
		challenges = st.Challenges()
	}
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		challenges:   challenges,
		logger:       logger,
		Limits:       DefaultLimits(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerAuthenticate()
	r.registerAccount()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{
		LoginService: r.LoginService,
		Cookies:      r.Cookies,
	}

	// Rate limited by IP + username to slow password guessing
	r.Mux.Handle("POST "+mfasdk.PathLogin,
		httpx.Chain(h,
			httpx.RateLimitByIPAndFormField(r.Limits.Strict, "username"),
		),
	)
}

func (r *Router) registerAuthenticate() {
	h := &AuthenticateHandler{
		AuthenticateService: r.AuthenticateService,
		Sessions:            r.Sessions,
		Cookies:             r.Cookies,
	}

	// GET renders forms and issues challenges
	r.Mux.Handle("GET "+mfasdk.PathAuthenticate,
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByCookie(r.Limits.Moderate, mfasdk.LoginCookie),
		),
	)

	// POST is a factor guess: strict, per pending login
	r.Mux.Handle("POST "+mfasdk.PathAuthenticate,
		httpx.Chain(http.HandlerFunc(h.HandlePost),
			httpx.RateLimitByCookie(r.Limits.Strict, mfasdk.LoginCookie),
		),
	)
}

func (r *Router) registerAccount() {
	index := &IndexHandler{IndexService: r.IndexService}
	reauth := &ReauthenticateHandler{ReauthenticateService: r.ReauthenticateService}
	authn := httpx.CookieAuthnMiddleware(mfasdk.SessionCookie, r.Sessions)

	r.Mux.Handle("GET "+mfasdk.PathIndex,
		httpx.Chain(index,
			authn,
			httpx.RateLimitByPrincipal(r.Limits.Moderate),
		),
	)
	r.Mux.Handle("GET "+mfasdk.PathReauthenticate,
		httpx.Chain(http.HandlerFunc(reauth.HandleGet),
			authn,
			httpx.RateLimitByPrincipal(r.Limits.Moderate),
		),
	)
	r.Mux.Handle("POST "+mfasdk.PathReauthenticate,
		httpx.Chain(http.HandlerFunc(reauth.HandlePost),
			authn,
			httpx.RateLimitByPrincipal(r.Limits.Strict),
		),
	)
}

func (r *Router) registerSystem() {
	// Monitoring systems may poll frequently
	r.Mux.Handle("GET "+mfasdk.PathLivez,
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.Limits.Lenient),
		),
	)
	r.Mux.Handle("GET "+mfasdk.PathReadyz,
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.challenges),
			httpx.RateLimitByIP(r.Limits.Lenient),
		),
	)
	r.Mux.Handle("GET "+mfasdk.PathMetrics,
		httpx.Chain(r.Metrics.Handler(),
			httpx.RateLimitByIP(r.Limits.Lenient),
		),
	)
}
