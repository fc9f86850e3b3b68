package auth

import "errors"

var (
	ErrNotFound            = errors.New("auth: not found")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrUnauthorized        = errors.New("auth: not permitted")
	ErrDuplicateIdentifier = errors.New("auth: identifier already registered")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrTooManyAttempts     = errors.New("auth: too many attempts")
)

// Token validation failures are disjoint so callers can tell "refresh and retry"
// apart from "reject outright".
var (
	ErrMalformedToken    = errors.New("auth: malformed token")
	ErrInvalidSignature  = errors.New("auth: token signature invalid")
	ErrExpiredToken      = errors.New("auth: token expired")
	ErrTokenKindMismatch = errors.New("auth: token kind mismatch")

	// ErrInvalidToken wraps every failure on the refresh and authenticate paths.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenFailureReason names the precise validation failure behind err, for metrics and
// response bodies. It returns "" when err is not a token error.
func TokenFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrTokenKindMismatch):
		return "kind"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return ""
	}
}
