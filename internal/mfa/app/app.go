package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	httpapi "github.com/aussiebroadwan/mfagate/internal/mfa/http"
	"github.com/aussiebroadwan/mfagate/internal/mfa/metrics"
	"github.com/aussiebroadwan/mfagate/internal/mfa/registry"
	"github.com/aussiebroadwan/mfagate/internal/mfa/selection"
	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/internal/mfa/stages"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	redisstore "github.com/aussiebroadwan/mfagate/internal/mfa/store/drivers/redis"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store/drivers/sqlite"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/jwtx"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
	"github.com/go-webauthn/webauthn/webauthn"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Option overrides a dependency New would otherwise build from Config.
type Option func(*Application)

// WithStore uses st instead of opening MFA_DATABASE_FILE. Migrations are
// still applied.
func WithStore(st store.Store) Option {
	return func(app *Application) { app.db = st }
}

// WithRelyingParty replaces the go-webauthn relying party and parser.
func WithRelyingParty(rp verify.RelyingParty, parser verify.AssertionParser) Option {
	return func(app *Application) {
		app.relyingParty = rp
		app.parser = parser
	}
}

// WithLogOutput sends logs to w.
func WithLogOutput(w io.Writer) Option {
	return func(app *Application) { app.logOutput = w }
}

// Application encapsulates the service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	logOutput    io.Writer
	relyingParty verify.RelyingParty
	parser       verify.AssertionParser

	// Core dependencies
	db          store.Store
	challenges  store.Challenges
	redisClient *goredis.Client
	metrics     *metrics.Metrics
	types       []domain.AuthenticatorType

	// Services
	sessionService        *service.SessionService
	loginService          *service.LoginService
	authenticateService   *service.AuthenticateService
	reauthenticateService *service.ReauthenticateService
	indexService          *service.IndexService
	bootstrapService      *service.BootstrapService
	housekeepingService   *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	types, err := cfg.Types()
	if err != nil {
		return nil, err
	}

	app := &Application{cfg: cfg, types: types}
	for _, opt := range opts {
		opt(app)
	}
	app.logger = slogx.New(slogx.Config{
		Service: "mfagate",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  app.logOutput,
	})
	app.metrics = metrics.New(metrics.DefaultNamespace)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initChallenges(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.bootstrap(context.Background()); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the routed HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Store returns the primary store.
func (app *Application) Store() store.Store { return app.db }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("mfagate starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"supported_types", app.cfg.SupportedTypes,
		"challenge_backend", app.cfg.ChallengeBackend,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down mfagate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("mfagate stopped")
	return nil
}

func (app *Application) closeStores() error {
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase opens the database unless one was injected, then applies
// migrations.
func (app *Application) initDatabase() error {
	if app.db == nil {
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		app.db = db
	}

	if err := app.db.ApplyMigrations(); err != nil {
		_ = app.db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initChallenges() error {
	switch app.cfg.ChallengeBackend {
	case BackendRedis:
		app.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		challenges, err := redisstore.NewChallenges(redisstore.Config{Client: app.redisClient})
		if err != nil {
			return fmt.Errorf("failed to initialize redis challenges: %w", err)
		}
		app.challenges = challenges
		app.logger.Info("webauthn challenges kept in redis", "addr", app.cfg.RedisAddr)
	default:
		app.challenges = app.db.Challenges()
	}
	return nil
}

func (app *Application) cookieSecret() ([]byte, error) {
	if app.cfg.CookieSecret != "" {
		return []byte(app.cfg.CookieSecret), nil
	}
	app.logger.Warn("MFA_COOKIE_SECRET not set, generated a random secret; cookies will not survive a restart")
	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// verifiers builds one verifier per enabled type. The WebAuthn verifier is
// also returned as the challenge issuer when enabled.
func (app *Application) verifiers() (verify.Set, verify.ChallengeIssuer, error) {
	set := verify.Set{}
	var issuer verify.ChallengeIssuer

	for _, t := range app.types {
		switch t {
		case domain.TypeTOTP:
			set[t] = &verify.TOTP{Store: app.db, Skew: app.cfg.TOTPSkew}

		case domain.TypeRecoveryCodes:
			set[t] = &verify.RecoveryCodes{Store: app.db}

		case domain.TypeWebAuthn:
			rp := app.relyingParty
			if rp == nil {
				wa, err := webauthn.New(&webauthn.Config{
					RPID:          app.cfg.WebAuthn.RPID,
					RPDisplayName: app.cfg.WebAuthn.RPDisplayName,
					RPOrigins:     app.cfg.WebAuthn.RPOrigins,
				})
				if err != nil {
					return nil, nil, fmt.Errorf("failed to initialize webauthn: %w", err)
				}
				rp = wa
			}
			v := &verify.WebAuthn{
				Store:        app.db,
				Challenges:   app.challenges,
				RelyingParty: rp,
				Parser:       app.parser,
				ChallengeTTL: app.cfg.ChallengeTTL,
			}
			set[t] = v
			issuer = v
		}
	}
	return set, issuer, nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() error {
	reg := &registry.Registry{Store: app.db}

	set, issuer, err := app.verifiers()
	if err != nil {
		return err
	}
	proto, err := selection.NewProtocol(reg, set, issuer, app.types)
	if err != nil {
		return fmt.Errorf("failed to initialize factor selection: %w", err)
	}

	secret, err := app.cookieSecret()
	if err != nil {
		return err
	}
	tokens, err := jwtx.NewHS256(secret, app.cfg.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize cookie signer: %w", err)
	}

	hasher := cryptox.PasswordHasher{Pepper: app.cfg.PasswordPepper}
	passwords, err := service.NewStorePasswords(app.db, hasher)
	if err != nil {
		return err
	}

	controller := &stages.Controller{
		Store:  app.db,
		Stages: []stages.Stage{&stages.MFAStage{Registry: reg}},
		TTL:    app.cfg.LoginTTL,
	}

	app.sessionService = &service.SessionService{
		Store:  app.db,
		Tokens: tokens,
		Issuer: app.cfg.Issuer,
		TTL:    app.cfg.SessionTTL,
	}
	app.loginService = &service.LoginService{
		Passwords:       passwords,
		Stages:          controller,
		Sessions:        app.sessionService,
		Metrics:         app.metrics,
		DefaultRedirect: app.cfg.DefaultRedirect,
	}
	app.authenticateService = &service.AuthenticateService{
		Store:     app.db,
		Stages:    controller,
		Selection: proto,
		Sessions:  app.sessionService,
		Metrics:   app.metrics,
	}
	app.reauthenticateService = &service.ReauthenticateService{
		Store:     app.db,
		Selection: proto,
		Metrics:   app.metrics,
	}
	app.indexService = &service.IndexService{Registry: reg, Supported: app.types}
	app.bootstrapService = &service.BootstrapService{Store: app.db, Hasher: hasher}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.challenges,
		app.metrics,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// bootstrap seeds the configured user into an empty database.
func (app *Application) bootstrap(ctx context.Context) error {
	b := app.cfg.Bootstrap
	if b.Username == "" {
		return nil
	}
	ctx = slogx.WithContext(ctx, app.logger)

	displayName := b.DisplayName
	if displayName == "" {
		displayName = b.Username
	}
	_, err := app.bootstrapService.Bootstrap(ctx, b.Username, displayName, b.Password)
	if errors.Is(err, service.ErrBootstrapAlready) {
		app.logger.Debug("bootstrap skipped, users already exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.challenges, app.logger)

	router.Limits = httpapi.Limits{
		Strict:   app.cfg.RateLimitStrict,
		Moderate: app.cfg.RateLimitModerate,
		Lenient:  app.cfg.RateLimitLenient,
	}
	router.Cookies = httpx.CookieOptions{Secure: app.cfg.CookieSecure}
	router.Metrics = app.metrics

	router.Sessions = app.sessionService
	router.LoginService = app.loginService
	router.AuthenticateService = app.authenticateService
	router.ReauthenticateService = app.reauthenticateService
	router.IndexService = app.indexService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
