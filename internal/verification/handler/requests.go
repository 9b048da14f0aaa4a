package handler

import (
	"strings"

	"verifyflow/internal/verification/models"
	dErrors "verifyflow/pkg/domain-errors"
)

const (
	maxPhoneLength = 32
	maxKeyLength   = 16
	keyBackspace   = "Backspace"
)

// PhoneRequest is the body of PUT and POST /verify/sessions/{sessionID}/phone.
type PhoneRequest struct {
	Phone string `json:"phone"`
}

// Validate implements httputil.Validatable. Phone format is checked by the
// flow so that failures come back as field errors on the view.
func (r *PhoneRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Phone) > maxPhoneLength {
		return dErrors.New(dErrors.CodeBadRequest, "phone is too long")
	}
	return nil
}

// KeyRequest is one keystroke in the code entry: a digit typed at index, or
// the Backspace key.
type KeyRequest struct {
	Index *int   `json:"index"`
	Key   string `json:"key"`
}

func (r *KeyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Index == nil {
		return dErrors.New(dErrors.CodeBadRequest, "index is required")
	}
	if len(r.Key) > maxKeyLength {
		return dErrors.New(dErrors.CodeBadRequest, "key is too long")
	}
	return nil
}

// IsBackspace reports whether the keystroke is a backspace.
func (r *KeyRequest) IsBackspace() bool {
	return strings.EqualFold(r.Key, keyBackspace)
}

// CodeRequest is the body of POST /verify/sessions/{sessionID}/code. An
// absent code submits the digits already entered key by key.
type CodeRequest struct {
	Code []string `json:"code"`

	digits *models.CodeDigits
}

func (r *CodeRequest) Validate() error {
	if r == nil || r.Code == nil {
		return nil
	}
	if len(r.Code) != models.CodeLength {
		return dErrors.New(dErrors.CodeBadRequest, "code must have exactly 6 entries")
	}
	var digits models.CodeDigits
	for i, d := range r.Code {
		if len(d) > maxKeyLength {
			return dErrors.New(dErrors.CodeBadRequest, "code entry is too long")
		}
		digits[i] = d
	}
	r.digits = &digits
	return nil
}

// Digits returns the parsed code, or nil when none was sent.
func (r *CodeRequest) Digits() *models.CodeDigits {
	if r == nil {
		return nil
	}
	return r.digits
}
