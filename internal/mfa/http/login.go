package http

import (
	"net/http"

	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
)

// LoginHandler serves primary login. The response either sets a session
// cookie or a login cookie naming the stage that is owed.
type LoginHandler struct {
	LoginService *service.LoginService
	Cookies      httpx.CookieOptions
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		mfasdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.LoginService.Login(r.Context(), username, password, r.PostForm.Get("next"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.Done {
		httpx.ClearCookie(w, mfasdk.LoginCookie)
		httpx.SetCookie(w, mfasdk.SessionCookie, res.SessionToken, res.Session.ExpiresAt, h.Cookies)
		httpx.WriteJSON(w, http.StatusOK, mfasdk.LoginResponse{
			Status:     mfasdk.StatusAuthenticated,
			RedirectTo: res.RedirectTo,
		})
		return
	}

	httpx.SetCookie(w, mfasdk.LoginCookie, res.LoginToken, res.Login.ExpiresAt, h.Cookies)
	httpx.WriteJSON(w, http.StatusOK, mfasdk.LoginResponse{
		Status:     mfasdk.StatusStageRequired,
		Stage:      res.Stage,
		Next:       mfasdk.PathAuthenticate,
		RedirectTo: res.RedirectTo,
	})
}
