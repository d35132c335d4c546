package http

import (
	"encoding/base64"
	"net/http"

	"github.com/aussiebroadwan/mfagate/internal/mfa/registry"
	"github.com/aussiebroadwan/mfagate/internal/mfa/service"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
)

// IndexHandler lists the signed-in user's authenticators.
type IndexHandler struct {
	IndexService *service.IndexService
}

func (h *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		mfasdk.ErrLoginRequired.WriteError(w)
		return
	}

	idx, err := h.IndexService.Index(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := mfasdk.IndexResponse{
		MFAEnabled: idx.MFAEnabled,
		WebAuthn:   []mfasdk.Authenticator{},
	}
	for _, t := range idx.Supported {
		out.SupportedTypes = append(out.SupportedTypes, string(t))
	}
	if v := idx.Listing.TOTP; v != nil {
		a := renderView(*v)
		out.TOTP = &a
	}
	for _, v := range idx.Listing.WebAuthn {
		out.WebAuthn = append(out.WebAuthn, renderView(v))
	}
	if v := idx.Listing.RecoveryCodes; v != nil {
		a := renderView(*v)
		out.RecoveryCodes = &a
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func renderView(v registry.View) mfasdk.Authenticator {
	a := mfasdk.Authenticator{
		ID:         v.ID(),
		Type:       string(v.Type()),
		Label:      v.Label(),
		Configured: v.IsConfigured(),
		CreatedAt:  v.CreatedAt(),
		LastUsedAt: v.LastUsedAt(),
	}
	switch v := v.(type) {
	case registry.WebAuthnView:
		a.CredentialID = base64.RawURLEncoding.EncodeToString(v.CredentialID())
	case registry.RecoveryCodesView:
		remaining, total := v.Remaining(), v.Total()
		a.Remaining, a.Total = &remaining, &total
	}
	return a
}
