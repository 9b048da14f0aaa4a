package models

// Step names the stage a flow is in. It is derived from FlowState and is what
// clients render against.
type Step string

const (
	StepPendingTokenCheck Step = "pending_token_check"
	StepAwaitingPhone     Step = "awaiting_phone"
	StepAwaitingCode      Step = "awaiting_code"
	StepComplete          Step = "complete"
)

// FlowState is the single source of truth for where a flow is. Exactly one
// variant is active; the interface is sealed to this package.
type FlowState interface {
	Step() Step
	isFlowState()
}

// PendingTokenCheck is the initial state. Nothing else is reachable until the
// registration token has been verified.
type PendingTokenCheck struct{}

// AwaitingPhone is entered after a successful token check, or after the user
// asks to use a different phone number.
type AwaitingPhone struct{}

// AwaitingCode carries the phone number accepted by the phone submission.
type AwaitingCode struct {
	Phone string
}

// Complete is terminal: the code was accepted.
type Complete struct{}

func (PendingTokenCheck) Step() Step { return StepPendingTokenCheck }
func (AwaitingPhone) Step() Step     { return StepAwaitingPhone }
func (AwaitingCode) Step() Step      { return StepAwaitingCode }
func (Complete) Step() Step          { return StepComplete }

func (PendingTokenCheck) isFlowState() {}
func (AwaitingPhone) isFlowState()     {}
func (AwaitingCode) isFlowState()      {}
func (Complete) isFlowState()          {}

// VerifiedPhone returns the phone held by AwaitingCode, or "" in any other state.
func VerifiedPhone(s FlowState) string {
	if ac, ok := s.(AwaitingCode); ok {
		return ac.Phone
	}
	return ""
}

// Outcome is the navigation decision of a flow. Set at most once.
type Outcome string

const (
	OutcomeNone                         Outcome = "none"
	OutcomeRedirectRegistration         Outcome = "redirect_registration"
	OutcomeRedirectCompleteRegistration Outcome = "redirect_complete_registration"
)

// IsTerminal reports whether the outcome ends the flow.
func (o Outcome) IsTerminal() bool {
	return o != "" && o != OutcomeNone
}
