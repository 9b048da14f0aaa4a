//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Package ports defines the collaborators the verification flow depends on.
package ports

import (
	"context"
	"errors"

	"verifyflow/internal/verification/models"
)

// ErrRejected marks a definitive "no" from a verifier, as opposed to an outage.
// Implementations wrap it so callers can tell the two apart with errors.Is.
var ErrRejected = errors.New("verification rejected")

// TokenVerifier proves a registration token. A nil error with an empty Token
// field is not a proof.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (models.TokenResult, error)
}

// PhoneVerifier sends a verification code to a normalized phone number.
type PhoneVerifier interface {
	VerifyPhone(ctx context.Context, phone string) error
}

// CodeVerifier checks a code previously sent to a phone.
type CodeVerifier interface {
	VerifyCode(ctx context.Context, req models.CodeSubmission) error
}

// Verifier is the full remote verification contract.
type Verifier interface {
	TokenVerifier
	PhoneVerifier
	CodeVerifier
}

// Navigator receives the one-shot navigation effects of a flow.
type Navigator interface {
	RedirectToRegistration()
	RedirectToCompleteRegistration()
}

// CompositeVerifier assembles a Verifier from independent parts, so the token
// check can be served locally while phone and code go to another backend.
type CompositeVerifier struct {
	TokenVerifier
	PhoneVerifier
	CodeVerifier
}
