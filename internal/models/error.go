package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrPasswordExpired    = errors.New("password expired")
	ErrResendFailed       = errors.New("failed to resend code")

	ErrWrongPhase     = errors.New("action not available in current phase")
	ErrInternalServer = errors.New("internal server error")
)
