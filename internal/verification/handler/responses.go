package handler

import (
	"verifyflow/internal/verification/models"
)

// ViewResponse is the JSON rendering of a verification session.
type ViewResponse struct {
	SessionID   string            `json:"session_id"`
	Step        models.Step       `json:"step"`
	Phone       string            `json:"phone,omitempty"`
	PhoneInput  string            `json:"phone_input"`
	Code        []string          `json:"code"`
	Focus       int               `json:"focus"`
	Error       string            `json:"error,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Submitting  bool              `json:"submitting"`
	RedirectTo  string            `json:"redirect_to,omitempty"`
	Copy        CopyResponse      `json:"copy"`
}

// CopyResponse is the text the page shows for the current step.
type CopyResponse struct {
	Heading          string `json:"heading,omitempty"`
	Subheading       string `json:"subheading,omitempty"`
	Button           string `json:"button,omitempty"`
	Pending          string `json:"pending,omitempty"`
	PhonePlaceholder string `json:"phone_placeholder,omitempty"`
	ResetLink        string `json:"reset_link,omitempty"`
}

// RedirectResponse is returned when a session ends in navigation before any
// interaction, such as a missing or rejected token.
type RedirectResponse struct {
	RedirectTo string `json:"redirect_to"`
}

// OTPResponse exposes the pending development code for a phone.
type OTPResponse struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// FromView converts a session view to its HTTP response.
func FromView(view models.SessionView) *ViewResponse {
	snap := view.Snapshot
	code := make([]string, len(snap.Code))
	copy(code, snap.Code[:])
	return &ViewResponse{
		SessionID:   view.SessionID,
		Step:        snap.Step,
		Phone:       snap.Phone,
		PhoneInput:  snap.PhoneInput,
		Code:        code,
		Focus:       snap.Focus,
		Error:       snap.Error,
		FieldErrors: snap.FieldErrors,
		Submitting:  snap.Submitting,
		RedirectTo:  view.RedirectTo,
		Copy:        copyFor(snap.Step, snap.Submitting),
	}
}

func copyFor(step models.Step, submitting bool) CopyResponse {
	switch step {
	case models.StepPendingTokenCheck:
		return CopyResponse{Pending: "Verifying your identity..."}
	case models.StepAwaitingPhone:
		button := "Send Code"
		if submitting {
			button = "Sending..."
		}
		return CopyResponse{
			Heading:          "Let's add your phone number",
			Subheading:       "We'll send you a confirmation code",
			Button:           button,
			PhonePlaceholder: "+79991234567",
		}
	default:
		button := "Verify Code"
		if submitting {
			button = "Verifying..."
		}
		return CopyResponse{
			Heading:    "Enter verification code",
			Subheading: "We sent a code to your phone",
			Button:     button,
			ResetLink:  "Use a different phone number",
		}
	}
}
