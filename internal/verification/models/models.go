package models

import (
	"time"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

// CodeDigits holds the per-position code entry. Each entry is empty or a single
// character; validity is only enforced at submit time.
type CodeDigits [CodeLength]string

// Join concatenates the digits into the code string sent for verification.
func (d CodeDigits) Join() string {
	var out string
	for _, v := range d {
		out += v
	}
	return out
}

// Snapshot is an immutable copy of a flow's observable state.
type Snapshot struct {
	State       FlowState
	Step        Step
	Phone       string
	PhoneInput  string
	Code        CodeDigits
	Focus       int
	Error       string
	FieldErrors map[string]string
	Submitting  bool
	Outcome     Outcome
}

// TokenResult is returned by token verification. An empty Token means the
// token was not proven, even if the call itself succeeded.
type TokenResult struct {
	Token   string `json:"token"`
	Subject string `json:"subject,omitempty"`
}

// CodeSubmission is the payload of the code verification call.
type CodeSubmission struct {
	PhoneNumber      string `json:"phone_number"`
	VerificationCode string `json:"verification_code"`
}

// TransitionReason explains why a TransitionEvent was emitted.
type TransitionReason string

const (
	ReasonTokenVerified  TransitionReason = "token_verified"
	ReasonTokenMissing   TransitionReason = "token_missing"
	ReasonTokenRejected  TransitionReason = "token_rejected"
	ReasonPhoneAccepted  TransitionReason = "phone_accepted"
	ReasonPhoneRejected  TransitionReason = "phone_rejected"
	ReasonCodeAccepted   TransitionReason = "code_accepted"
	ReasonCodeRejected   TransitionReason = "code_rejected"
	ReasonPhoneReset     TransitionReason = "phone_reset"
	ReasonSessionExpired TransitionReason = "session_expired"
	ReasonSessionEnded   TransitionReason = "session_ended"
)

// TransitionEvent is emitted on every state transition, outcome and remote
// rejection. The flow fills Phone; the session service replaces it with
// PhoneHash and PhoneMasked before the event leaves the process.
type TransitionEvent struct {
	SessionID   string
	From        Step
	To          Step
	Outcome     Outcome
	Reason      TransitionReason
	PhoneHash   string
	PhoneMasked string
	Phone       string `json:"-"`
	Timestamp   time.Time
	RequestID   string
	ClientIP    string
	DeviceName  string
}

// SessionView is what the session service returns to its callers: the flow
// snapshot plus where the client should navigate, if anywhere.
type SessionView struct {
	SessionID  string
	Snapshot   Snapshot
	RedirectTo string
}
