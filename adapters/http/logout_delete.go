package authhttp

import (
	"net/http"

	"github.com/open-rails/phonekit/core"
)

func (s *Service) handleLogoutDELETE(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLLogout) {
		tooMany(w)
		return
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		unauthorized(w, "missing_token")
		return
	}
	claims, err := s.svc.SessionFromToken(r.Context(), token)
	if err != nil {
		unauthorized(w, "invalid_token")
		return
	}
	ctx := core.WithClientIP(r.Context(), s.clientIP(r))
	if err := s.svc.RevokeSession(ctx, claims.SessionID); err != nil {
		serverErr(w, "failed_to_logout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
