package mfasdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/mfagate/pkg/httpx"
)

// Error codes.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeLoginRequired      = "login_required"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeFeatureUnavailable = "feature_unavailable"
	ErrorCodeNoUsableFactor     = "no_usable_factor"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeServerError        = "server_error"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is the JSON error body written by every endpoint. The server
// writes the predefined values below; the client returns them parsed.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on status and code, so a parsed error matches its predefined
// value with errors.Is.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.StatusCode == e.StatusCode && t.Code == e.Code
}

// WriteError writes e as the response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteError(w, e.StatusCode, e.Code, e.Description)
}

var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrInvalidContentType = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "content-type must be application/x-www-form-urlencoded",
	}

	ErrInvalidFormBody = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "invalid form body",
	}

	// ErrAmbiguousSubmission is returned for a post carrying both a code and
	// a credential.
	ErrAmbiguousSubmission = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "submit either a code or a credential, not both",
	}

	ErrNoSubmission = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "a code or a credential is required",
	}

	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid username or password",
	}

	ErrLoginRequired = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeLoginRequired,
		Description: "a valid session is required",
	}

	// ErrFeatureUnavailable is returned when a factor type is not enabled
	// in this deployment.
	ErrFeatureUnavailable = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeFeatureUnavailable,
		Description: "feature unavailable",
	}

	ErrNoUsableFactor = &APIError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeNoUsableFactor,
		Description: "no usable second factor is configured",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// ============================================================================
// Flow Errors
// ============================================================================

// VerificationFailedError is returned when a submitted factor was rejected.
// Forms holds the forms to show again, with a fresh WebAuthn challenge where
// one applies. The reason for the rejection is never disclosed.
type VerificationFailedError struct {
	Forms FormsResponse
}

func (e *VerificationFailedError) Error() string {
	return "verification failed"
}

// RestartError is returned when the server sent the user back to Location,
// usually the login endpoint because the pending login is gone.
type RestartError struct {
	StatusCode int
	Location   string
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart at %s (HTTP %d)", e.Location, e.StatusCode)
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse maps a non-2xx response to a typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return &RestartError{StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	if resp.StatusCode == http.StatusBadRequest {
		var forms FormsResponse
		if err := json.Unmarshal(body, &forms); err == nil && forms.Error == ErrorCodeVerificationFailed {
			return &VerificationFailedError{Forms: forms}
		}
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
