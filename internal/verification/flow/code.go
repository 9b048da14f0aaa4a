package flow

import (
	"verifyflow/internal/verification/models"
)

// digitsOnly strips everything but ASCII digits.
func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// applyDigit writes value at index and returns the new digits and focus.
// ok is false when the input was refused (more than one digit after stripping).
func applyDigit(code models.CodeDigits, index int, value string) (models.CodeDigits, int, bool) {
	v := digitsOnly(value)
	if len(v) > 1 {
		return code, index, false
	}
	code[index] = v
	focus := index
	if v != "" && index < models.CodeLength-1 {
		for next := index + 1; next < models.CodeLength; next++ {
			if code[next] == "" {
				focus = next
				break
			}
		}
	}
	return code, focus, true
}

// applyBackspace clears a filled position, or steps focus back from an empty one.
func applyBackspace(code models.CodeDigits, index int) (models.CodeDigits, int) {
	if code[index] != "" {
		code[index] = ""
		return code, index
	}
	if index > 0 {
		return code, index - 1
	}
	return code, index
}

// validateCode returns the field message for an unsubmittable code, or "".
func validateCode(code models.CodeDigits) string {
	for _, d := range code {
		if d == "" {
			return MsgCodeLength
		}
	}
	for _, d := range code {
		if len(d) != 1 || d[0] < '0' || d[0] > '9' {
			return MsgCodeDigit
		}
	}
	return ""
}
