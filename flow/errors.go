package flow

import "errors"

// Category is the closed set of user-facing failure classes. Every error
// surfaced by a Flow carries exactly one of these.
type Category string

const (
	CategoryInvalidInput         Category = "invalid_input"
	CategoryInvalidPhoneNumber   Category = "invalid_phone_number"
	CategoryQuotaExceeded        Category = "quota_exceeded"
	CategoryAccountDisabled      Category = "account_disabled"
	CategoryOperationNotAllowed  Category = "operation_not_allowed"
	CategoryTooManyRequests      Category = "too_many_requests"
	CategoryInvalidCode          Category = "invalid_code"
	CategoryCodeExpired          Category = "code_expired"
	CategoryChallengeSetupFailed Category = "challenge_setup_failed"
	CategoryUnknown              Category = "unknown"
)

// Provider error codes. Providers fail with one of these opaque strings;
// anything else is surfaced as CategoryUnknown with the raw message.
const (
	ProviderCodeInvalidPhone    = "invalid-phone-number"
	ProviderCodeQuotaExceeded   = "quota-exceeded"
	ProviderCodeUserDisabled    = "user-disabled"
	ProviderCodeNotAllowed      = "operation-not-allowed"
	ProviderCodeTooManyRequests = "too-many-requests"
	ProviderCodeInvalidCode     = "invalid-verification-code"
	ProviderCodeCodeExpired     = "code-expired"
	ProviderCodeCaptchaFailed   = "captcha-check-failed"
)

// ProviderError is the tagged error a provider returns across the
// boundary. Flow code never inspects provider internals beyond Code.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewProviderError builds a tagged provider error.
func NewProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// Error is a categorized flow failure with a message fit for rendering.
type Error struct {
	Category Category
	Message  string
}

func (e *Error) Error() string { return string(e.Category) + ": " + e.Message }

func newError(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Categorize translates any error crossing the provider boundary into the
// closed taxonomy. Flow-local errors pass through unchanged.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return newError(CategoryUnknown, err.Error())
	}
	switch pe.Code {
	case ProviderCodeInvalidPhone:
		return newError(CategoryInvalidPhoneNumber, "That phone number was rejected. Check the country code and try again.")
	case ProviderCodeQuotaExceeded:
		return newError(CategoryQuotaExceeded, "Too many codes were sent to this number. Try again later.")
	case ProviderCodeUserDisabled:
		return newError(CategoryAccountDisabled, "This account has been disabled.")
	case ProviderCodeNotAllowed:
		return newError(CategoryOperationNotAllowed, "Phone sign-in is not enabled for this application.")
	case ProviderCodeTooManyRequests:
		return newError(CategoryTooManyRequests, "Too many attempts. Try again later.")
	case ProviderCodeInvalidCode:
		return newError(CategoryInvalidCode, "That code is not correct. Check the SMS and try again.")
	case ProviderCodeCodeExpired:
		return newError(CategoryCodeExpired, "That code has expired. Request a new one.")
	case ProviderCodeCaptchaFailed:
		return newError(CategoryChallengeSetupFailed, "Could not verify that you are human. Try again.")
	}
	return newError(CategoryUnknown, pe.Error())
}
