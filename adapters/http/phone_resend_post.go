package authhttp

import (
	"net/http"
	"strings"

	"github.com/open-rails/phonekit/core"
)

func (s *Service) handlePhoneResendPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPhoneResend) {
		tooMany(w)
		return
	}

	var req struct {
		ConfirmationID string `json:"confirmation_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	if strings.TrimSpace(req.ConfirmationID) == "" {
		badRequest(w, "invalid_request")
		return
	}

	ctx := core.WithClientIP(r.Context(), s.clientIP(r))
	if err := s.svc.ResendCode(ctx, req.ConfirmationID); err != nil {
		providerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
