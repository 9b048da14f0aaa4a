package flow

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// NormalizePhone keeps only digits and prefixes "+" when any digit remains.
// Applied on every keystroke, not only at submit.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			if b.Len() == 0 {
				b.WriteByte('+')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhone checks an already normalized phone and returns the field
// message, or "" when the phone is acceptable.
func ValidatePhone(phone string) string {
	switch {
	case phone == "":
		return MsgPhoneRequired
	case !phonePattern.MatchString(phone):
		return MsgPhoneInvalid
	default:
		return ""
	}
}
