// Package audit turns verification transition events into audit records.
package audit

import (
	"context"
	"log/slog"

	"verifyflow/internal/verification/models"
	pkgaudit "verifyflow/pkg/platform/audit"
)

// Emitter is the audit publisher surface the subscriber needs.
type Emitter interface {
	Emit(ctx context.Context, event pkgaudit.Event) error
}

// Subscriber maps transition events to audit events. Transitions that carry
// no audit meaning, such as an explicit session end, are skipped.
type Subscriber struct {
	emitter Emitter
	logger  *slog.Logger
}

func NewSubscriber(emitter Emitter, logger *slog.Logger) *Subscriber {
	return &Subscriber{emitter: emitter, logger: logger}
}

var reasonActions = map[models.TransitionReason]pkgaudit.AuditEvent{
	models.ReasonTokenVerified:  pkgaudit.EventVerificationStarted,
	models.ReasonTokenMissing:   pkgaudit.EventTokenRejected,
	models.ReasonTokenRejected:  pkgaudit.EventTokenRejected,
	models.ReasonPhoneAccepted:  pkgaudit.EventPhoneSubmitted,
	models.ReasonPhoneRejected:  pkgaudit.EventPhoneRejected,
	models.ReasonCodeRejected:   pkgaudit.EventCodeRejected,
	models.ReasonCodeAccepted:   pkgaudit.EventRegistrationVerified,
	models.ReasonPhoneReset:     pkgaudit.EventPhoneReset,
	models.ReasonSessionExpired: pkgaudit.EventSessionExpired,
}

// ActionFor returns the audit action for a transition reason.
func ActionFor(reason models.TransitionReason) (pkgaudit.AuditEvent, bool) {
	action, ok := reasonActions[reason]
	return action, ok
}

// Handle is an events.Handler. Audit failures are logged and never fail the flow.
func (s *Subscriber) Handle(ctx context.Context, ev models.TransitionEvent) {
	action, ok := ActionFor(ev.Reason)
	if !ok {
		return
	}
	event := pkgaudit.Event{
		Category:   action.Category(),
		Timestamp:  ev.Timestamp,
		SessionID:  ev.SessionID,
		Action:     string(action),
		Step:       string(ev.To),
		Reason:     string(ev.Reason),
		PhoneHash:  ev.PhoneHash,
		RequestID:  ev.RequestID,
		ClientIP:   ev.ClientIP,
		DeviceName: ev.DeviceName,
	}
	if err := s.emitter.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"session_id", ev.SessionID,
			"error", err,
		)
	}
}
