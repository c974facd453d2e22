package authhttp

import (
	"net/http"
	"strings"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/core"
)

func (s *Service) handlePhoneRequestPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPhoneRequest) {
		tooMany(w)
		return
	}

	var req struct {
		PhoneNumber string            `json:"phone_number"`
		Challenge   *challenge.Answer `json:"challenge"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		badRequest(w, "invalid_request")
		return
	}

	ctx := core.WithClientIP(r.Context(), s.clientIP(r))
	id, err := s.svc.StartVerification(ctx, phone, req.Challenge)
	if err != nil {
		providerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmation_id": id})
}
