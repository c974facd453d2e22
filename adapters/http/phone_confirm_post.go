package authhttp

import (
	"net/http"
	"strings"

	"github.com/open-rails/phonekit/core"
)

type sessionResp struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	PhoneNumber     string `json:"phone_number"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at"`
	AccessToken     string `json:"access_token"`
	AccessExpiresAt int64  `json:"access_expires_at"`
	RefreshToken    string `json:"refresh_token"`
}

func toSessionResp(sess *core.Session) sessionResp {
	return sessionResp{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		PhoneNumber:     sess.PhoneNumber,
		CreatedAt:       sess.CreatedAt.Unix(),
		ExpiresAt:       sess.ExpiresAt.Unix(),
		AccessToken:     sess.AccessToken,
		AccessExpiresAt: sess.AccessExpiresAt.Unix(),
		RefreshToken:    sess.RefreshToken,
	}
}

func (s *Service) handlePhoneConfirmPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPhoneConfirm) {
		tooMany(w)
		return
	}

	var req struct {
		ConfirmationID string `json:"confirmation_id"`
		Code           string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	if strings.TrimSpace(req.ConfirmationID) == "" || strings.TrimSpace(req.Code) == "" {
		badRequest(w, "invalid_request")
		return
	}

	ctx := core.WithClientIP(r.Context(), s.clientIP(r))
	sess, err := s.svc.ConfirmVerification(ctx, req.ConfirmationID, req.Code)
	if err != nil {
		providerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResp(sess))
}
