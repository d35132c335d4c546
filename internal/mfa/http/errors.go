package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mfagate/internal/mfa/selection"
	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/internal/mfa/stages"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// writeError maps service errors to API errors. Anything unmapped is a 500
// and is logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, selection.ErrFeatureUnavailable):
		mfasdk.ErrFeatureUnavailable.WriteError(w)
	case errors.Is(err, selection.ErrAmbiguous):
		mfasdk.ErrAmbiguousSubmission.WriteError(w)
	case errors.Is(err, service.ErrNoSubmission):
		mfasdk.ErrNoSubmission.WriteError(w)
	case errors.Is(err, service.ErrNoFactors):
		mfasdk.ErrNoUsableFactor.WriteError(w)
	case errors.Is(err, service.ErrInvalidCredentials):
		mfasdk.ErrInvalidCredentials.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		mfasdk.ErrServerError.WriteError(w)
	}
}

// mustRestart reports whether err means the pending login is gone or not
// waiting here, so the user has to log in again.
func mustRestart(err error) bool {
	return errors.Is(err, stages.ErrAbandoned) ||
		errors.Is(err, service.ErrNotOwed) ||
		errors.Is(err, service.ErrInvalidLogin)
}

func restart(w http.ResponseWriter, r *http.Request) {
	httpx.ClearCookie(w, mfasdk.LoginCookie)
	httpx.NoCache(w)
	http.Redirect(w, r, mfasdk.PathLogin, http.StatusSeeOther)
}

// parseForm requires a urlencoded body. It writes the error response and
// returns false when the body is unusable.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		mfasdk.ErrInvalidContentType.WriteError(w)
		return false
	}
	if err := r.ParseForm(); err != nil {
		mfasdk.ErrInvalidFormBody.WriteError(w)
		return false
	}
	return true
}

// renderForms projects the selection forms onto the wire. A nil form stays
// omitted.
func renderForms(r *http.Request, f *selection.Forms) mfasdk.FormsResponse {
	var out mfasdk.FormsResponse
	if f.Code != nil {
		out.Code = &mfasdk.CodeForm{Bound: f.Code.Bound, Error: errText(f.Code.Err)}
	}
	if f.WebAuthn != nil {
		form := &mfasdk.WebAuthnForm{Bound: f.WebAuthn.Bound, Error: errText(f.WebAuthn.Err)}
		if f.WebAuthn.Assertion != nil {
			raw, err := json.Marshal(f.WebAuthn.Assertion)
			if err != nil {
				slogx.FromContext(r.Context()).Error("encode assertion options", "err", err)
			} else {
				form.Options = raw
			}
		}
		out.WebAuthn = form
	}
	return out
}

// writeVerificationFailed answers a rejected factor with the forms to retry.
func writeVerificationFailed(w http.ResponseWriter, r *http.Request, f *selection.Forms) {
	out := renderForms(r, f)
	out.Error = mfasdk.ErrorCodeVerificationFailed
	out.ErrorDescription = selection.ErrVerificationFailed.Error()
	httpx.WriteJSON(w, http.StatusBadRequest, out)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
