// Package ledger records registration tokens consumed by completed flows so
// a token cannot start a second successful verification.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"verifyflow/pkg/platform/sentinel"
)

// Clock returns the current time.
type Clock func() time.Time

// tokenKey hashes the token so raw tokens are never stored.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
