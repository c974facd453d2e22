package authhttp

import (
	"net/http"
	"strings"
)

func (s *Service) handleRefreshPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLRefresh) {
		tooMany(w)
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		badRequest(w, "invalid_request")
		return
	}

	sess, err := s.svc.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		unauthorized(w, "invalid_refresh_token")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResp(sess))
}
