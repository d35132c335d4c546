package mfasdk

import (
	"encoding/json"
	"time"
)

// Endpoint paths.
const (
	PathLogin          = "/v1/login"
	PathAuthenticate   = "/v1/mfa/authenticate"
	PathIndex          = "/v1/mfa"
	PathReauthenticate = "/v1/mfa/reauthenticate"
	PathLivez          = "/livez"
	PathReadyz         = "/readyz"
	PathMetrics        = "/metrics"
)

// Form field names accepted by the authenticate endpoints. A submission
// carries exactly one of them.
const (
	FieldCode       = "code"
	FieldCredential = "credential"
)

// Cookie names.
const (
	LoginCookie   = "mfagate_login"
	SessionCookie = "mfagate_session"
)

// Status values of LoginResponse and ReauthenticateResponse.
const (
	StatusAuthenticated   = "authenticated"
	StatusStageRequired   = "stage_required"
	StatusReauthenticated = "reauthenticated"
)

// ============================================================================
// Login Types
// ============================================================================

// LoginResponse is returned by the login endpoint and by a successful
// factor submission.
type LoginResponse struct {
	// Status is StatusAuthenticated once a session cookie was set, or
	// StatusStageRequired while the login owes a stage.
	Status string `json:"status"`

	// Stage is the key of the stage owed.
	Stage string `json:"stage,omitempty"`

	// Next is the endpoint serving the owed stage.
	Next string `json:"next,omitempty"`

	// RedirectTo is where the user goes once authenticated.
	RedirectTo string `json:"redirect_to,omitempty"`
}

// ============================================================================
// Form Types
// ============================================================================

// FormsResponse lists the factor forms usable by the user. An omitted form
// means the factor is not available to this user in this deployment.
type FormsResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`

	Code     *CodeForm     `json:"code,omitempty"`
	WebAuthn *WebAuthnForm `json:"webauthn,omitempty"`
}

// CodeForm accepts a TOTP code or a recovery code in the "code" field.
type CodeForm struct {
	// Bound is set on the form that was submitted.
	Bound bool   `json:"bound"`
	Error string `json:"error,omitempty"`
}

// WebAuthnForm accepts a security key assertion in the "credential" field.
type WebAuthnForm struct {
	Bound bool `json:"bound"`

	// Options is the protocol.CredentialAssertion for the browser. It is set
	// on every form that can still be submitted.
	Options json.RawMessage `json:"options,omitempty"`

	Error string `json:"error,omitempty"`
}

// ReauthenticateResponse is returned after a successful step-up.
type ReauthenticateResponse struct {
	Status            string    `json:"status"`
	ReauthenticatedAt time.Time `json:"reauthenticated_at"`
}

// ============================================================================
// Authenticator Types
// ============================================================================

// IndexResponse lists the authenticators of the signed-in user.
type IndexResponse struct {
	// MFAEnabled is true when a TOTP or security key authenticator exists.
	MFAEnabled bool `json:"mfa_enabled"`

	// SupportedTypes are the factor types enabled in this deployment, in
	// preference order.
	SupportedTypes []string `json:"supported_types"`

	TOTP          *Authenticator  `json:"totp,omitempty"`
	WebAuthn      []Authenticator `json:"webauthn"`
	RecoveryCodes *Authenticator  `json:"recovery_codes,omitempty"`
}

// Authenticator is the read view of one authenticator.
type Authenticator struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Label      string     `json:"label"`
	Configured bool       `json:"configured"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// CredentialID is the base64url credential ID of a security key.
	CredentialID string `json:"credential_id,omitempty"`

	// Remaining and Total are set for recovery codes.
	Remaining *int `json:"remaining,omitempty"`
	Total     *int `json:"total,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz includes Checks).
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the status of each dependency.
type HealthChecks struct {
	Database   string `json:"database"`
	Challenges string `json:"challenges"`
}
