// Package devotp is a development stand-in for the phone and code
// verification calls. It generates codes in memory instead of sending SMS.
// Codes are kept as SHA-256 hashes; the plaintext is retained only when
// WithPeek is set, so the last code per phone can be read back during testing.
package devotp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

const (
	otpDigits  = 6
	defaultTTL = 5 * time.Minute
)

// ErrProduction is returned when the verifier is requested in production.
var ErrProduction = errors.New("development OTP verifier cannot run in production")

type challenge struct {
	code      string // only with peek
	codeHash  string
	expiresAt time.Time
}

// Verifier implements ports.PhoneVerifier and ports.CodeVerifier.
type Verifier struct {
	mu         sync.Mutex
	challenges map[string]challenge
	ttl        time.Duration
	now        func() time.Time
	generate   func() (string, error)
	logger     *slog.Logger
	peek       bool
}

type Option func(*Verifier)

func WithTTL(ttl time.Duration) Option {
	return func(v *Verifier) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithPeek keeps the plaintext of each pending code for Peek.
func WithPeek() Option {
	return func(v *Verifier) {
		v.peek = true
	}
}

// WithGenerator replaces the random code source.
func WithGenerator(generate func() (string, error)) Option {
	return func(v *Verifier) {
		v.generate = generate
	}
}

// New refuses to build a verifier when env is "production".
func New(env string, opts ...Option) (*Verifier, error) {
	if env == "production" {
		return nil, ErrProduction
	}
	v := &Verifier{
		challenges: make(map[string]challenge),
		ttl:        defaultTTL,
		now:        time.Now,
		generate:   GenerateOTP,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifyPhone issues a fresh code for phone, replacing any previous one.
// Expired codes of other phones are dropped on the way.
func (v *Verifier) VerifyPhone(ctx context.Context, phone string) error {
	code, err := v.generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	ch := challenge{codeHash: HashOTP(code)}
	if v.peek {
		ch.code = code
	}

	v.mu.Lock()
	now := v.now()
	for p, pending := range v.challenges {
		if !now.Before(pending.expiresAt) {
			delete(v.challenges, p)
		}
	}
	ch.expiresAt = now.Add(v.ttl)
	v.challenges[phone] = ch
	v.mu.Unlock()
	v.logger.InfoContext(ctx, "development otp issued", "expires_in", v.ttl.String())
	return nil
}

// VerifyCode accepts the code once. Unknown, expired and wrong codes are
// rejections.
func (v *Verifier) VerifyCode(_ context.Context, req models.CodeSubmission) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch, ok := v.challenges[req.PhoneNumber]
	if !ok {
		return fmt.Errorf("no code issued for phone: %w", ports.ErrRejected)
	}
	if !v.now().Before(ch.expiresAt) {
		delete(v.challenges, req.PhoneNumber)
		return fmt.Errorf("code expired: %w", ports.ErrRejected)
	}
	if !OTPEqual(req.VerificationCode, ch.codeHash) {
		return fmt.Errorf("code mismatch: %w", ports.ErrRejected)
	}
	delete(v.challenges, req.PhoneNumber)
	return nil
}

// Peek returns the pending code for phone. It always misses without WithPeek.
func (v *Verifier) Peek(phone string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch, ok := v.challenges[phone]
	if !ok || ch.code == "" || !v.now().Before(ch.expiresAt) {
		return "", false
	}
	return ch.code, true
}

// Pending returns the number of phones holding a code.
func (v *Verifier) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.challenges)
}

var ten = big.NewInt(10)

// GenerateOTP returns a 6-digit numeric code, each digit drawn uniformly from
// crypto/rand.
func GenerateOTP() (string, error) {
	s := make([]byte, otpDigits)
	for i := range otpDigits {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		s[i] = '0' + byte(d.Int64())
	}
	return string(s), nil
}

// HashOTP returns the hex SHA-256 of a code.
func HashOTP(otp string) string {
	h := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(h[:])
}

// OTPEqual compares a provided code against a stored hash in constant time.
func OTPEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashOTP(provided)), []byte(storedHash)) == 1
}
