package authhttp

import (
	"net/http"
)

func (s *Service) handleSessionGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLSession) {
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
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   claims.SessionID,
		"user_id":      claims.UserID,
		"phone_number": claims.PhoneNumber,
		"expires_at":   claims.ExpiresAt.Unix(),
	})
}
