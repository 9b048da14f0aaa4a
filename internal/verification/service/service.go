// Package service hosts verification flows for the HTTP layer: one flow
// controller per session, held in memory, bound to the device that opened it
// and ended on completion, redirect, idle expiry or explicit teardown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"verifyflow/internal/device"
	"verifyflow/internal/verification/flow"
	"verifyflow/internal/verification/metrics"
	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
	id "verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/events"
	"verifyflow/pkg/platform/privacy"
	"verifyflow/pkg/platform/sentinel"
	"verifyflow/pkg/requestcontext"
)

const (
	tracerName = "verifyflow/internal/verification/service"

	defaultSessionTTL = 15 * time.Minute
	defaultLedgerTTL  = 24 * time.Hour
)

// Ledger records tokens consumed by completed flows.
type Ledger interface {
	MarkConsumed(ctx context.Context, token string, ttl time.Duration) error
}

// Config holds session lifetimes and navigation targets.
type Config struct {
	SessionTTL                time.Duration
	LedgerTTL                 time.Duration
	SweepInterval             time.Duration
	RegistrationRoute         string
	CompleteRegistrationRoute string
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.LedgerTTL <= 0 {
		c.LedgerTTL = defaultLedgerTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.SessionTTL / 2
	}
	if c.RegistrationRoute == "" {
		c.RegistrationRoute = "/register"
	}
	if c.CompleteRegistrationRoute == "" {
		c.CompleteRegistrationRoute = "/complete-registration"
	}
	return c
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBus sets the bus transition events are published on.
func WithBus(bus *events.Bus[models.TransitionEvent]) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

func WithLedger(ledger Ledger) Option {
	return func(s *Service) {
		s.ledger = ledger
	}
}

func WithPhoneHasher(h *privacy.PhoneHasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithDevices enables device binding checks through svc.
func WithDevices(svc *device.Service) Option {
	return func(s *Service) {
		s.devices = svc
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the session registry.
type Service struct {
	verifier ports.Verifier
	cfg      Config
	ledger   Ledger
	bus      *events.Bus[models.TransitionEvent]
	hasher   *privacy.PhoneHasher
	devices  *device.Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	sessions map[id.SessionID]*session
}

type session struct {
	id          id.SessionID
	token       string
	fingerprint string
	flow        *flow.Controller
	nav         *navigator
	createdAt   time.Time
	lastSeen    time.Time // guarded by Service.mu
}

func New(verifier ports.Verifier, cfg Config, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		hasher:   privacy.NewPhoneHasher(""),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[id.SessionID]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a flow for token and runs the token check. A flow that
// redirects is not kept; its view carries RedirectTo and no further calls are
// possible with its id.
func (s *Service) Start(ctx context.Context, token string) (models.SessionView, error) {
	ctx, span := s.tracer.Start(ctx, "verification.session.start")
	defer span.End()

	now := s.timeFor(ctx)
	sess := &session{
		id:        id.NewSessionID(),
		token:     token,
		nav:       newNavigator(s.cfg.RegistrationRoute, s.cfg.CompleteRegistrationRoute),
		createdAt: now,
		lastSeen:  now,
	}
	if s.devices.Enabled() {
		sess.fingerprint = requestcontext.DeviceFingerprint(ctx)
	}
	ctx = requestcontext.WithSessionID(ctx, sess.id)
	span.SetAttributes(attribute.String("session.id", sess.id.String()))
	flowOpts := []flow.Option{
		flow.WithLogger(s.logger.With("session_id", sess.id.String())),
		flow.WithObserver(func(ctx context.Context, ev models.TransitionEvent) {
			s.publish(ctx, sess, ev)
		}),
	}
	if s.now != nil {
		flowOpts = append(flowOpts, flow.WithClock(s.now))
	}
	sess.flow = flow.New(s.verifier, sess.nav, flowOpts...)

	if err := sess.flow.CheckToken(ctx, token); err != nil {
		sess.flow.Close()
		return models.SessionView{}, translateFlowError(err)
	}

	view := sess.view()
	span.SetAttributes(attribute.String("verification.step", string(view.Snapshot.Step)))
	if view.Snapshot.Outcome.IsTerminal() {
		sess.flow.Close()
		return view, nil
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)

	s.logger.InfoContext(ctx, "verification session started",
		"session_id", sess.id.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return view, nil
}

// Get returns the current view of a session.
func (s *Service) Get(ctx context.Context, sessionID string) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	return sess.view(), nil
}

// SetPhoneInput stores the phone as typed, normalized.
func (s *Service) SetPhoneInput(ctx context.Context, sessionID, phone string) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	if _, err := sess.flow.SetPhoneInput(phone); err != nil {
		return sess.view(), translateFlowError(err)
	}
	return sess.view(), nil
}

// SubmitPhone submits the phone. Local validation failures come back as
// CodeValidation together with a view carrying the field errors.
func (s *Service) SubmitPhone(ctx context.Context, sessionID, phone string) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	ctx, span := s.startSpan(ctx, "verification.session.submit_phone", sess)
	defer span.End()
	if err := sess.flow.SubmitPhone(ctx, phone); err != nil {
		return sess.view(), translateFlowError(err)
	}
	return sess.view(), nil
}

// EnterDigit handles one keystroke in the code entry.
func (s *Service) EnterDigit(ctx context.Context, sessionID string, index int, value string) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	if err := sess.flow.EnterDigit(index, value); err != nil {
		return sess.view(), translateFlowError(err)
	}
	return sess.view(), nil
}

// Backspace handles a backspace in the code entry.
func (s *Service) Backspace(ctx context.Context, sessionID string, index int) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	if err := sess.flow.Backspace(index); err != nil {
		return sess.view(), translateFlowError(err)
	}
	return sess.view(), nil
}

// SubmitCode submits digits, or the digits already entered when digits is
// nil. A completed flow consumes its token and is ended.
func (s *Service) SubmitCode(ctx context.Context, sessionID string, digits *models.CodeDigits) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	ctx, span := s.startSpan(ctx, "verification.session.submit_code", sess)
	defer span.End()
	code := sess.flow.Snapshot().Code
	if digits != nil {
		code = *digits
	}
	if err := sess.flow.SubmitCode(ctx, code); err != nil {
		return sess.view(), translateFlowError(err)
	}

	view := sess.view()
	if view.Snapshot.Outcome == models.OutcomeRedirectCompleteRegistration {
		s.consume(ctx, sess)
		s.remove(sess.id)
		sess.flow.Close()
	}
	return view, nil
}

// Reset returns the flow to phone entry. Never fails for a live session.
func (s *Service) Reset(ctx context.Context, sessionID string) (models.SessionView, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	sess.flow.ResetToPhoneEntry(s.sessionContext(ctx, sess))
	return sess.view(), nil
}

// End tears a session down. Late remote results for it are dropped.
func (s *Service) End(ctx context.Context, sessionID string) error {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	s.remove(sess.id)
	snap := sess.flow.Snapshot()
	sess.flow.Close()
	s.publish(s.sessionContext(ctx, sess), sess, models.TransitionEvent{
		From:      snap.Step,
		To:        snap.Step,
		Outcome:   snap.Outcome,
		Reason:    models.ReasonSessionEnded,
		Timestamp: s.timeFor(ctx),
	})
	return nil
}

// Sweep ends sessions idle for longer than the session TTL and returns how
// many were ended.
func (s *Service) Sweep(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var expired []*session
	for sid, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.cfg.SessionTTL {
			expired = append(expired, sess)
			delete(s.sessions, sid)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		s.expire(ctx, sess)
	}
	if len(expired) > 0 {
		s.metrics.SetActiveSessions(count)
		s.logger.InfoContext(ctx, "expired idle verification sessions", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps on a ticker until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx, s.timeFor(ctx))
		}
	}
}

// Shutdown closes every session without publishing expiry events.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[id.SessionID]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.flow.Close()
	}
	s.metrics.SetActiveSessions(0)
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// lookup resolves a live session for the caller's device. Unknown, expired
// and foreign-device sessions are all reported as not found.
func (s *Service) lookup(ctx context.Context, raw string) (*session, error) {
	sid, err := id.ParseSessionID(raw)
	if err != nil {
		return nil, errSessionNotFound(err)
	}
	now := s.timeFor(ctx)

	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if !ok {
		s.mu.Unlock()
		return nil, errSessionNotFound(sentinel.ErrNotFound)
	}
	if now.Sub(sess.lastSeen) > s.cfg.SessionTTL {
		delete(s.sessions, sid)
		count := len(s.sessions)
		s.mu.Unlock()
		s.metrics.SetActiveSessions(count)
		s.expire(ctx, sess)
		return nil, errSessionNotFound(sentinel.ErrExpired)
	}
	if s.devices.Enabled() {
		if matched, drift := s.devices.CompareFingerprints(sess.fingerprint, requestcontext.DeviceFingerprint(ctx)); !matched {
			s.mu.Unlock()
			s.logger.WarnContext(ctx, "verification session used from another device",
				"session_id", sid.String(),
				"drift", drift,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, errSessionNotFound(sentinel.ErrNotFound)
		}
	}
	sess.lastSeen = now
	s.mu.Unlock()
	return sess, nil
}

func (s *Service) remove(sid id.SessionID) {
	s.mu.Lock()
	delete(s.sessions, sid)
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
}

func (s *Service) expire(ctx context.Context, sess *session) {
	snap := sess.flow.Snapshot()
	sess.flow.Close()
	s.publish(requestcontext.WithSessionID(ctx, sess.id), sess, models.TransitionEvent{
		From:      snap.Step,
		To:        snap.Step,
		Outcome:   snap.Outcome,
		Reason:    models.ReasonSessionExpired,
		Phone:     snap.Phone,
		Timestamp: s.timeFor(ctx),
	})
}

func (s *Service) consume(ctx context.Context, sess *session) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.MarkConsumed(ctx, sess.token, s.cfg.LedgerTTL)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		s.logger.WarnContext(ctx, "registration token completed more than once", "session_id", sess.id.String())
	default:
		s.logger.ErrorContext(ctx, "failed to record consumed registration token",
			"session_id", sess.id.String(),
			"error", err,
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, sess *session) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(s.sessionContext(ctx, sess), name,
		trace.WithAttributes(attribute.String("session.id", sess.id.String())),
	)
	return ctx, span
}

// timeFor returns the configured clock's time, or the request time pinned on
// ctx.
func (s *Service) timeFor(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}

func (s *Service) sessionContext(ctx context.Context, sess *session) context.Context {
	return requestcontext.WithSessionID(ctx, sess.id)
}

// publish strips the raw phone from ev, enriches it with request metadata
// and fans it out.
func (s *Service) publish(ctx context.Context, sess *session, ev models.TransitionEvent) {
	ev.SessionID = sess.id.String()
	if ev.Phone != "" {
		ev.PhoneHash = s.hasher.Hash(ev.Phone)
		ev.PhoneMasked = privacy.MaskPhone(ev.Phone)
		ev.Phone = ""
	}
	ev.RequestID = requestcontext.RequestID(ctx)
	ev.ClientIP = requestcontext.ClientIP(ctx)
	ev.DeviceName = requestcontext.DeviceName(ctx)

	s.logger.InfoContext(ctx, "verification transition",
		"session_id", ev.SessionID,
		"from", string(ev.From),
		"to", string(ev.To),
		"reason", string(ev.Reason),
		"outcome", string(ev.Outcome),
		"phone", ev.PhoneMasked,
		"request_id", ev.RequestID,
	)
	s.bus.Publish(ctx, ev)
}

func (sess *session) view() models.SessionView {
	return models.SessionView{
		SessionID:  sess.id.String(),
		Snapshot:   sess.flow.Snapshot(),
		RedirectTo: sess.nav.Route(),
	}
}

func errSessionNotFound(cause error) error {
	return dErrors.Wrap(cause, dErrors.CodeNotFound, "verification session not found")
}

// translateFlowError maps controller errors to domain errors.
func translateFlowError(err error) error {
	var verr *flow.ValidationError
	switch {
	case errors.As(err, &verr):
		return dErrors.Wrap(err, dErrors.CodeValidation, firstMessage(verr))
	case errors.Is(err, flow.ErrSubmissionInFlight):
		return dErrors.Wrap(err, dErrors.CodeConflict, "a submission is already in progress")
	case errors.Is(err, flow.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "operation not allowed in current step")
	case errors.Is(err, flow.ErrFlowTerminated), errors.Is(err, flow.ErrFlowClosed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "verification flow has already finished")
	case errors.Is(err, flow.ErrCodeIndex):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "code position must be between 0 and 5")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("verification failed: %v", err))
	}
}

func firstMessage(verr *flow.ValidationError) string {
	for _, field := range []string{flow.FieldPhone, flow.FieldCode} {
		if msg, ok := verr.Fields[field]; ok {
			return msg
		}
	}
	return "validation failed"
}
