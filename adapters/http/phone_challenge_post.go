package authhttp

import (
	"net/http"
)

func (s *Service) handlePhoneChallengePOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPhoneChallenge) {
		tooMany(w)
		return
	}
	if !s.svc.RequiresChallenge() {
		badRequest(w, "challenge_not_required")
		return
	}
	ch, err := s.svc.IssueChallenge(r.Context())
	if err != nil {
		serverErr(w, "challenge_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
