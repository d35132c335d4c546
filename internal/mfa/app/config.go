package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/jwtx"
	"github.com/caarlos0/env/v11"
)

// Challenge store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Env                  string        `env:"ENV"                   envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT"            envDefault:"json"`
	Port                 int           `env:"PORT"                  envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"15m"`

	Issuer string `env:"MFA_ISSUER" envDefault:"mfagate"`

	// SupportedTypes are the enabled factor types in preference order.
	SupportedTypes []string `env:"MFA_SUPPORTED_TYPES" envDefault:"totp,webauthn,recovery_codes" envSeparator:","`

	TOTPSkew     uint          `env:"MFA_TOTP_SKEW"     envDefault:"1"`
	LoginTTL     time.Duration `env:"MFA_LOGIN_TTL"     envDefault:"10m"`
	SessionTTL   time.Duration `env:"MFA_SESSION_TTL"   envDefault:"12h"`
	ChallengeTTL time.Duration `env:"MFA_CHALLENGE_TTL" envDefault:"5m"`

	DatabaseFile     string `env:"MFA_DATABASE_FILE"     envDefault:"mfagate.db"`
	ChallengeBackend string `env:"MFA_CHALLENGE_BACKEND" envDefault:"sqlite"`
	RedisAddr        string `env:"MFA_REDIS_ADDR"`
	RedisPassword    string `env:"MFA_REDIS_PASSWORD"`
	RedisDB          int    `env:"MFA_REDIS_DB"`

	// CookieSecret keys the login and session cookies. When empty a random
	// secret is generated and cookies do not survive a restart.
	CookieSecret   string `env:"MFA_COOKIE_SECRET"`
	CookieSecure   bool   `env:"MFA_COOKIE_SECURE"   envDefault:"true"`
	PasswordPepper string `env:"MFA_PASSWORD_PEPPER"`

	DefaultRedirect string `env:"MFA_DEFAULT_REDIRECT" envDefault:"/"`

	WebAuthn  WebAuthnConfig  `envPrefix:"MFA_WEBAUTHN_"`
	Bootstrap BootstrapConfig `envPrefix:"MFA_BOOTSTRAP_"`

	RateLimitStrict   httpx.RateLimitConfig `envPrefix:"RATE_LIMIT_STRICT_"`
	RateLimitModerate httpx.RateLimitConfig `envPrefix:"RATE_LIMIT_MODERATE_"`
	RateLimitLenient  httpx.RateLimitConfig `envPrefix:"RATE_LIMIT_LENIENT_"`
}

// WebAuthnConfig controls the relying party.
type WebAuthnConfig struct {
	RPID          string   `env:"RP_ID"           envDefault:"localhost"`
	RPDisplayName string   `env:"RP_DISPLAY_NAME" envDefault:"mfagate"`
	RPOrigins     []string `env:"RP_ORIGINS"      envDefault:"http://localhost:8080" envSeparator:","`
}

// BootstrapConfig seeds the first user of an empty database.
type BootstrapConfig struct {
	Username    string `env:"USERNAME"`
	DisplayName string `env:"DISPLAY_NAME"`
	Password    string `env:"PASSWORD"`
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := Config{
		RateLimitStrict:   httpx.StrictLimit,
		RateLimitModerate: httpx.ModerateLimit,
		RateLimitLenient:  httpx.LenientLimit,
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Types parses SupportedTypes.
func (c Config) Types() ([]domain.AuthenticatorType, error) {
	out := make([]domain.AuthenticatorType, 0, len(c.SupportedTypes))
	for _, s := range c.SupportedTypes {
		t, err := domain.ParseAuthenticatorType(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if slices.Contains(out, t) {
			return nil, fmt.Errorf("duplicate type %q", t)
		}
		out = append(out, t)
	}
	return out, nil
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	types, err := c.Types()
	switch {
	case err != nil:
		bad("MFA_SUPPORTED_TYPES: %w", err)
	case len(types) == 0:
		bad("MFA_SUPPORTED_TYPES: at least one type is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		bad("PORT: %d out of range", c.Port)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		bad("LOG_FORMAT: %q is not json or text", c.LogFormat)
	}

	for name, d := range map[string]time.Duration{
		"MFA_LOGIN_TTL":         c.LoginTTL,
		"MFA_SESSION_TTL":       c.SessionTTL,
		"MFA_CHALLENGE_TTL":     c.ChallengeTTL,
		"SHUTDOWN_GRACE_PERIOD": c.ShutdownGracePeriod,
		"HOUSEKEEPING_INTERVAL": c.HousekeepingInterval,
	} {
		if d <= 0 {
			bad("%s: must be positive", name)
		}
	}

	switch c.ChallengeBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.RedisAddr == "" {
			bad("MFA_REDIS_ADDR: required with the redis challenge backend")
		}
	default:
		bad("MFA_CHALLENGE_BACKEND: %q is not sqlite or redis", c.ChallengeBackend)
	}

	if c.CookieSecret != "" && len(c.CookieSecret) < jwtx.MinSecretSize {
		bad("MFA_COOKIE_SECRET: need at least %d bytes", jwtx.MinSecretSize)
	}

	if slices.Contains(types, domain.TypeWebAuthn) {
		if c.WebAuthn.RPID == "" {
			bad("MFA_WEBAUTHN_RP_ID: required when webauthn is enabled")
		}
		if len(c.WebAuthn.RPOrigins) == 0 {
			bad("MFA_WEBAUTHN_RP_ORIGINS: required when webauthn is enabled")
		}
	}

	if (c.Bootstrap.Username == "") != (c.Bootstrap.Password == "") {
		bad("MFA_BOOTSTRAP_USERNAME and MFA_BOOTSTRAP_PASSWORD must be set together")
	}

	for name, rl := range map[string]httpx.RateLimitConfig{
		"RATE_LIMIT_STRICT":   c.RateLimitStrict,
		"RATE_LIMIT_MODERATE": c.RateLimitModerate,
		"RATE_LIMIT_LENIENT":  c.RateLimitLenient,
	} {
		if !rl.Valid() {
			bad("%s: requests, window and burst must be positive", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
