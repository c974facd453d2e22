package authhttp

// Bucket names used by phonekit endpoints.
const (
	RLPhoneChallenge = "auth_phone_challenge"
	RLPhoneRequest   = "auth_phone_request"
	RLPhoneConfirm   = "auth_phone_confirm"
	RLPhoneResend    = "auth_phone_resend"
	RLSession        = "auth_session"
	RLRefresh        = "auth_refresh"
	RLLogout         = "auth_logout"
)
