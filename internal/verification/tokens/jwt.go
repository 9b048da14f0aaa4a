// Package tokens verifies registration tokens locally, without a round trip
// to the remote verification service.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

// PurposeRegistration is the only purpose claim accepted.
const PurposeRegistration = "registration"

// RegistrationClaims are the claims of a registration token.
type RegistrationClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 registration tokens.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

type Option func(*JWTVerifier)

// WithIssuer requires (and, when issuing, sets) the iss claim.
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) {
		v.issuer = issuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *JWTVerifier) {
		v.now = now
	}
}

func NewJWTVerifier(signingKey string, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{
		signingKey: []byte(signingKey),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issue signs a registration token for subject. Used by tests and the
// development tooling that seeds flows.
func (v *JWTVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RegistrationClaims{
		Purpose: PurposeRegistration,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign registration token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the token id as proof. Every validation failure wraps
// ports.ErrRejected.
func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (models.TokenResult, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &RegistrationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.TokenResult{}, fmt.Errorf("registration token expired: %w", ports.ErrRejected)
		}
		return models.TokenResult{}, fmt.Errorf("invalid registration token: %w", ports.ErrRejected)
	}
	if !parsed.Valid {
		return models.TokenResult{}, fmt.Errorf("invalid registration token: %w", ports.ErrRejected)
	}
	if claims.Purpose != PurposeRegistration {
		return models.TokenResult{}, fmt.Errorf("registration token has purpose %q: %w", claims.Purpose, ports.ErrRejected)
	}
	if claims.ID == "" {
		return models.TokenResult{}, fmt.Errorf("registration token has no jti: %w", ports.ErrRejected)
	}
	return models.TokenResult{Token: claims.ID, Subject: claims.Subject}, nil
}
