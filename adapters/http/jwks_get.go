package authhttp

import (
	"net/http"
)

func (s *Service) handleJWKSGET(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.JWKSJSON()
	if err != nil {
		serverErr(w, "jwks_unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(doc)
}
