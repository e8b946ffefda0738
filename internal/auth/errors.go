package auth

import (
	"errors"
	"net/http"
)

// Error is a rejected authentication operation with a stable kind and HTTP status.
type Error struct {
	Kind   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Detail
}

func newError(kind string, status int, detail string) *Error {
	return &Error{Kind: kind, Status: status, Detail: detail}
}

// Rejections surfaced to callers.
var (
	ErrInvalidCredentials          = newError("InvalidCredentials", http.StatusUnauthorized, "incorrect username or password")
	ErrTokenInvalid                = newError("TokenInvalid", http.StatusUnauthorized, "could not validate credentials")
	ErrTokenExpired                = newError("TokenExpired", http.StatusUnauthorized, "token has expired")
	ErrChallengeNotFound           = newError("ChallengeNotFound", http.StatusBadRequest, "challenge not found or already used")
	ErrChallengeExpired            = newError("ChallengeExpired", http.StatusBadRequest, "challenge has expired")
	ErrCredentialAlreadyRegistered = newError("CredentialAlreadyRegistered", http.StatusConflict, "credential is already registered")
	ErrReplayDetected              = newError("ReplayDetected", http.StatusUnauthorized, "signature counter did not increase")
	ErrSessionNotFound             = newError("SessionNotFound", http.StatusNotFound, "login session not found")
	ErrSessionExpired              = newError("SessionExpired", http.StatusGone, "login session has expired")
	ErrInvalidTransition           = newError("InvalidTransition", http.StatusConflict, "login session is not pending")
	ErrCodeAlreadyUsed             = newError("CodeAlreadyUsed", http.StatusUnauthorized, "recovery code has already been used")
	ErrInvalidCode                 = newError("InvalidCode", http.StatusUnauthorized, "invalid recovery code")
	ErrPrincipalInactive           = newError("PrincipalInactive", http.StatusForbidden, "inactive user")
	ErrPrincipalNotFound           = newError("PrincipalNotFound", http.StatusUnauthorized, "user not found")
	ErrUserNotFound                = newError("UserNotFound", http.StatusNotFound, "user not found")
	ErrForbidden                   = newError("Forbidden", http.StatusForbidden, "not enough privileges")
	ErrNoCredentials               = newError("NoCredentials", http.StatusBadRequest, "no webauthn credentials registered")
	ErrInvalidAttestation          = newError("InvalidAttestation", http.StatusBadRequest, "attestation could not be verified")
	ErrInvalidRequest              = newError("InvalidRequest", http.StatusBadRequest, "invalid request")
)

// AsError extracts the *Error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
