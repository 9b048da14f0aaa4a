package audit

import (
	"context"
	"time"
)

// EventCategory drives retention and routing of audit records.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory weight (a registration
	// was verified). Long retention.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers rejected tokens and codes, useful for abuse forensics.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine flow progress; can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the verification flow. It is transport-agnostic so the
// memory, Postgres and Kafka stores can all accept it.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// SessionID is the verification session the event belongs to.
	SessionID string
	Action    string
	// Step is the flow step after the transition.
	Step   string
	Reason string
	// PhoneHash is a keyed digest of the phone number; the number itself is never stored.
	PhoneHash  string
	RequestID  string
	ClientIP   string
	DeviceName string
}

// AuditEvent names an action recorded by the flow.
type AuditEvent string

const (
	EventVerificationStarted  AuditEvent = "verification_started"
	EventTokenRejected        AuditEvent = "token_rejected"
	EventPhoneSubmitted       AuditEvent = "phone_submitted"
	EventPhoneRejected        AuditEvent = "phone_rejected"
	EventCodeRejected         AuditEvent = "code_rejected"
	EventPhoneReset           AuditEvent = "phone_reset"
	EventRegistrationVerified AuditEvent = "registration_verified"
	EventSessionExpired       AuditEvent = "session_expired"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRegistrationVerified: CategoryCompliance,

	EventTokenRejected: CategorySecurity,
	EventPhoneRejected: CategorySecurity,
	EventCodeRejected:  CategorySecurity,

	EventVerificationStarted: CategoryOperations,
	EventPhoneSubmitted:      CategoryOperations,
	EventPhoneReset:          CategoryOperations,
	EventSessionExpired:      CategoryOperations,
}

// Category returns the category of e; unknown events are operational.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
}
