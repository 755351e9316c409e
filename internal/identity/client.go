// Package identity defines the contract with the external identity service
// that owns credential verification, second-factor issuance and checking,
// and session token signing.
package identity

import "context"

// LoginResult is the successful outcome of a credential check.
type LoginResult struct {
	SessionEstablished   bool
	RequiresSecondFactor bool
	Email                string
	AccessToken          string
	RefreshToken         string
}

// VerifyResult is the successful outcome of a second-factor check.
type VerifyResult struct {
	AccessToken  string
	RefreshToken string
}

// Client is the upstream identity service surface the login flow consumes.
// Implementations classify failures into the sentinel errors in
// internal/models: Login returns ErrPasswordExpired or
// ErrInvalidCredentials, VerifySecondFactor returns ErrInvalidCode, and
// ResendSecondFactor returns ErrResendFailed. Anything else is a transport
// fault.
type Client interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	VerifySecondFactor(ctx context.Context, email, code string) (*VerifyResult, error)
	ResendSecondFactor(ctx context.Context, email string) error
}
