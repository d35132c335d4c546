package http

import (
	"net/http"

	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
)

// ReauthenticateHandler serves step-up for an existing session.
type ReauthenticateHandler struct {
	ReauthenticateService *service.ReauthenticateService
}

func (h *ReauthenticateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		mfasdk.ErrLoginRequired.WriteError(w)
		return
	}

	forms, err := h.ReauthenticateService.Show(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderForms(r, forms))
}

func (h *ReauthenticateHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		mfasdk.ErrLoginRequired.WriteError(w)
		return
	}

	res, err := h.ReauthenticateService.Submit(r.Context(), p, r.PostForm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Failure != nil {
		writeVerificationFailed(w, r, res.Forms)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, mfasdk.ReauthenticateResponse{
		Status:            mfasdk.StatusReauthenticated,
		ReauthenticatedAt: res.ReauthenticatedAt,
	})
}
