package authhttp

import (
	"net/http"

	"github.com/open-rails/phonekit/core"
)

// JWKSHandler serves the public JWKS document at any path the host
// chooses, typically /.well-known/jwks.json.
func (s *Service) JWKSHandler() http.Handler {
	return http.HandlerFunc(s.handleJWKSGET)
}

// APIHandler serves the JSON API routes under /auth/*. Mount it on the
// host's mux at the root.
func (s *Service) APIHandler() http.Handler {
	if s == nil || s.svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serverErr(w, "phonekit_not_initialized")
		})
	}
	if !core.IsDevEnvironment() {
		if s.rd == nil {
			panic("phonekit: a redis-backed ephemeral store is required in production")
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /auth/phone/challenge", http.HandlerFunc(s.handlePhoneChallengePOST))
	mux.Handle("POST /auth/phone/request", http.HandlerFunc(s.handlePhoneRequestPOST))
	mux.Handle("POST /auth/phone/confirm", http.HandlerFunc(s.handlePhoneConfirmPOST))
	mux.Handle("POST /auth/phone/resend", http.HandlerFunc(s.handlePhoneResendPOST))

	mux.Handle("POST /auth/refresh", http.HandlerFunc(s.handleRefreshPOST))
	mux.Handle("GET /auth/session", http.HandlerFunc(s.handleSessionGET))
	mux.Handle("DELETE /auth/logout", http.HandlerFunc(s.handleLogoutDELETE))

	mux.Handle("GET /.well-known/jwks.json", http.HandlerFunc(s.handleJWKSGET))

	return mux
}
