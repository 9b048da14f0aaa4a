// Package privacy pseudonymizes phone numbers before they leave the flow
// (audit records, transition events, logs).
package privacy

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// PhoneHasher derives a stable keyed digest of a phone number so events can be
// correlated without storing the number itself.
type PhoneHasher struct {
	key []byte
}

// NewPhoneHasher builds a hasher. Keys longer than 64 bytes are rejected by
// BLAKE2b, so they are truncated here.
func NewPhoneHasher(key string) *PhoneHasher {
	k := []byte(key)
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return &PhoneHasher{key: k}
}

// Hash returns the hex BLAKE2b-256 digest of phone, or "" for an empty phone.
func (h *PhoneHasher) Hash(phone string) string {
	if phone == "" {
		return ""
	}
	var key []byte
	if h != nil {
		key = h.key
	}
	d, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key, which NewPhoneHasher prevents.
		sum := blake2b.Sum256([]byte(phone))
		return hex.EncodeToString(sum[:])
	}
	d.Write([]byte(phone))
	return hex.EncodeToString(d.Sum(nil))
}

// MaskPhone keeps the leading "+" and the last four digits: "+*******4567".
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	prefix := ""
	digits := phone
	if strings.HasPrefix(phone, "+") {
		prefix = "+"
		digits = phone[1:]
	}
	if len(digits) <= 4 {
		return prefix + strings.Repeat("*", len(digits))
	}
	return prefix + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
