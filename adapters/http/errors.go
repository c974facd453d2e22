package authhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/open-rails/phonekit/flow"
)

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errResp{Error: code})
}

func badRequest(w http.ResponseWriter, code string)   { sendErr(w, http.StatusBadRequest, code) }
func unauthorized(w http.ResponseWriter, code string) { sendErr(w, http.StatusUnauthorized, code) }
func forbidden(w http.ResponseWriter, code string)    { sendErr(w, http.StatusForbidden, code) }
func tooMany(w http.ResponseWriter)                   { sendErr(w, http.StatusTooManyRequests, "rate_limited") }
func serverErr(w http.ResponseWriter, code string)    { sendErr(w, http.StatusInternalServerError, code) }

// providerErr maps provider error codes onto HTTP responses. Unknown
// errors collapse to a 500 without leaking internals.
func providerErr(w http.ResponseWriter, err error) {
	var perr *flow.ProviderError
	if !errors.As(err, &perr) {
		serverErr(w, "internal_error")
		return
	}
	switch perr.Code {
	case flow.ProviderCodeInvalidPhone:
		badRequest(w, "invalid_phone_number")
	case flow.ProviderCodeCaptchaFailed:
		badRequest(w, "challenge_failed")
	case flow.ProviderCodeInvalidCode:
		badRequest(w, "invalid_code")
	case flow.ProviderCodeCodeExpired:
		badRequest(w, "code_expired")
	case flow.ProviderCodeUserDisabled:
		forbidden(w, "account_disabled")
	case flow.ProviderCodeNotAllowed:
		forbidden(w, "operation_not_allowed")
	case flow.ProviderCodeQuotaExceeded:
		sendErr(w, http.StatusTooManyRequests, "quota_exceeded")
	case flow.ProviderCodeTooManyRequests:
		sendErr(w, http.StatusTooManyRequests, "too_many_attempts")
	default:
		serverErr(w, "internal_error")
	}
}
