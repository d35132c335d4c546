package http

import (
	"net/http"

	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// AuthenticateHandler serves the MFA stage of a pending login.
type AuthenticateHandler struct {
	AuthenticateService *service.AuthenticateService
	Sessions            *service.SessionService
	Cookies             httpx.CookieOptions
}

// HandleGet handles GET /v1/mfa/authenticate. It answers with the usable
// forms, or sends the user back to login when the stage is not owed.
func (h *AuthenticateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	loginID, ok := h.loginID(r)
	if !ok {
		restart(w, r)
		return
	}

	forms, err := h.AuthenticateService.Show(r.Context(), loginID)
	if mustRestart(err) {
		restart(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderForms(r, forms))
}

// HandlePost handles POST /v1/mfa/authenticate with either a code or a
// credential field.
func (h *AuthenticateHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !parseForm(w, r) {
		return
	}
	loginID, ok := h.loginID(r)
	if !ok {
		restart(w, r)
		return
	}

	res, err := h.AuthenticateService.Submit(ctx, loginID, r.PostForm)
	if mustRestart(err) {
		log.Debug("authenticate post without a pending mfa stage", "err", err)
		restart(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.Failure != nil {
		writeVerificationFailed(w, r, res.Forms)
		return
	}

	if !res.Done {
		httpx.WriteJSON(w, http.StatusOK, mfasdk.LoginResponse{
			Status: mfasdk.StatusStageRequired,
			Stage:  res.NextStage,
		})
		return
	}

	httpx.ClearCookie(w, mfasdk.LoginCookie)
	httpx.SetCookie(w, mfasdk.SessionCookie, res.SessionToken, res.Session.ExpiresAt, h.Cookies)
	httpx.WriteJSON(w, http.StatusOK, mfasdk.LoginResponse{
		Status:     mfasdk.StatusAuthenticated,
		RedirectTo: res.RedirectTo,
	})
}

func (h *AuthenticateHandler) loginID(r *http.Request) (string, bool) {
	c, err := r.Cookie(mfasdk.LoginCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := h.Sessions.ResolveLogin(c.Value)
	if err != nil {
		slogx.FromContext(r.Context()).Warn("login cookie rejected", "err", err)
		return "", false
	}
	return id, true
}
