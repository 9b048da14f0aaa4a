package flow

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrFlowClosed is returned by every operation after Close.
	ErrFlowClosed = errors.New("verification flow closed")
	// ErrFlowTerminated is returned once the flow has navigated away.
	ErrFlowTerminated = errors.New("verification flow already finished")
	// ErrInvalidState is returned when an operation does not apply to the current step.
	ErrInvalidState = errors.New("operation not allowed in current step")
	// ErrSubmissionInFlight is returned while a remote call for this flow is pending.
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
)

// User-facing messages. Raw collaborator errors are logged, never shown.
const (
	MsgPhoneRequired   = "Phone number is required"
	MsgPhoneInvalid    = "Phone number is not correct"
	MsgPhoneSendFailed = "Failed to send verification code. Please try again."
	MsgCodeLength      = "Code must be exactly 6 digits"
	MsgCodeDigit       = "Each digit must be a number"
	MsgCodeInvalid     = "Invalid verification code. Please try again."
	MsgFallback        = "Something went wrong. Please try again."
)

// Field names used in ValidationError.Fields.
const (
	FieldPhone = "phone"
	FieldCode  = "code"
)

// ValidationError is a local rejection: the input never reached a verifier.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newFieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
