// Package flow implements the registration verification state machine:
// token check, phone submission, code submission and the correction path
// between them.
//
// A Controller is safe for concurrent use. Its mutex is never held across a
// verifier call; instead a generation counter is captured before each call
// and re-checked when the result arrives, so results that land after Close or
// ResetToPhoneEntry are dropped.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

// ErrCodeIndex is returned for a code position outside 0..5.
var ErrCodeIndex = errors.New("code position out of range")

// Observer receives transition events. It is called without the controller
// lock held, in the order the transitions happened.
type Observer func(ctx context.Context, event models.TransitionEvent)

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		c.observe = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller drives one verification flow.
type Controller struct {
	verifier ports.Verifier
	nav      ports.Navigator
	logger   *slog.Logger
	observe  Observer
	now      func() time.Time

	mu          sync.Mutex
	state       models.FlowState
	phoneInput  string
	code        models.CodeDigits
	focus       int
	errMsg      string
	fieldErrors map[string]string
	submitting  bool
	outcome     models.Outcome
	generation  uint64
	closed      bool
}

func New(verifier ports.Verifier, nav ports.Navigator, opts ...Option) *Controller {
	c := &Controller{
		verifier: verifier,
		nav:      nav,
		logger:   slog.Default(),
		now:      time.Now,
		state:    models.PendingTokenCheck{},
		outcome:  models.OutcomeNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// effects are collected under the lock and applied after it is released.
type effects struct {
	events   []models.TransitionEvent
	navigate models.Outcome
}

// CheckToken verifies the registration token the flow was opened with. An
// empty token redirects to registration without calling the verifier. A
// rejected token, or a result without a proof, redirects as well; only a
// proven token moves the flow to AwaitingPhone.
func (c *Controller) CheckToken(ctx context.Context, token string) error {
	c.mu.Lock()
	if err := c.checkLocked(models.StepPendingTokenCheck, true); err != nil {
		c.mu.Unlock()
		return err
	}
	if token == "" {
		fx := c.redirectLocked(models.OutcomeRedirectRegistration, models.ReasonTokenMissing)
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "registration token missing, redirecting to registration")
		c.apply(ctx, fx)
		return nil
	}
	gen := c.beginLocked()
	c.mu.Unlock()

	result, err := c.verifier.VerifyToken(ctx, token)

	c.mu.Lock()
	if !c.settleLocked(gen) {
		return c.dropLocked(ctx, "token")
	}
	var fx effects
	if err == nil && result.Token != "" {
		fx.events = append(fx.events, c.transitionLocked(models.AwaitingPhone{}, models.ReasonTokenVerified, ""))
	} else {
		fx = c.redirectLocked(models.OutcomeRedirectRegistration, models.ReasonTokenRejected)
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "registration token verification failed", "error", err)
	case result.Token == "":
		c.logger.WarnContext(ctx, "registration token verification returned no proof")
	}
	c.apply(ctx, fx)
	return nil
}

// SetPhoneInput stores the phone being typed, normalized, and returns it.
func (c *Controller) SetPhoneInput(raw string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(models.StepAwaitingPhone, false); err != nil {
		return "", err
	}
	c.phoneInput = NormalizePhone(raw)
	return c.phoneInput, nil
}

// SubmitPhone validates the phone locally and asks the verifier to send a
// code to it. Local rejection returns a *ValidationError. A verifier failure
// is not returned: the flow stays in AwaitingPhone with Snapshot().Error set
// and the typed phone kept.
func (c *Controller) SubmitPhone(ctx context.Context, raw string) error {
	c.mu.Lock()
	if err := c.checkLocked(models.StepAwaitingPhone, true); err != nil {
		c.mu.Unlock()
		return err
	}
	phone := NormalizePhone(raw)
	c.phoneInput = phone
	if msg := ValidatePhone(phone); msg != "" {
		c.fieldErrors = map[string]string{FieldPhone: msg}
		c.mu.Unlock()
		return newFieldError(FieldPhone, msg)
	}
	c.errMsg = ""
	c.fieldErrors = nil
	gen := c.beginLocked()
	c.mu.Unlock()

	err := c.verifier.VerifyPhone(ctx, phone)

	c.mu.Lock()
	if !c.settleLocked(gen) {
		return c.dropLocked(ctx, "phone")
	}
	var fx effects
	if err != nil {
		c.errMsg = userMessage(err, MsgPhoneSendFailed)
		fx.events = append(fx.events, c.eventLocked(c.state.Step(), models.ReasonPhoneRejected, phone))
	} else {
		c.code = models.CodeDigits{}
		c.focus = 0
		fx.events = append(fx.events, c.transitionLocked(models.AwaitingCode{Phone: phone}, models.ReasonPhoneAccepted, phone))
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnContext(ctx, "phone verification failed", "error", err)
	}
	c.apply(ctx, fx)
	return nil
}

// EnterDigit handles input typed into code position index. Non-digits are
// stripped; input that still holds more than one digit is ignored. After a
// digit is accepted focus moves to the next empty position, if any.
func (c *Controller) EnterDigit(index int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(models.StepAwaitingCode, false); err != nil {
		return err
	}
	if index < 0 || index >= models.CodeLength {
		return ErrCodeIndex
	}
	code, focus, ok := applyDigit(c.code, index, value)
	if !ok {
		c.focus = index
		return nil
	}
	c.code = code
	c.focus = focus
	return nil
}

// Backspace handles a backspace key at code position index.
func (c *Controller) Backspace(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(models.StepAwaitingCode, false); err != nil {
		return err
	}
	if index < 0 || index >= models.CodeLength {
		return ErrCodeIndex
	}
	c.code, c.focus = applyBackspace(c.code, index)
	return nil
}

// SubmitCode validates the digits locally and sends them with the verified
// phone. Success completes the flow and redirects exactly once. A verifier
// failure keeps the flow in AwaitingCode with the digits untouched.
func (c *Controller) SubmitCode(ctx context.Context, digits models.CodeDigits) error {
	c.mu.Lock()
	if err := c.checkLocked(models.StepAwaitingCode, true); err != nil {
		c.mu.Unlock()
		return err
	}
	c.code = digits
	if msg := validateCode(digits); msg != "" {
		c.fieldErrors = map[string]string{FieldCode: msg}
		c.mu.Unlock()
		return newFieldError(FieldCode, msg)
	}
	c.errMsg = ""
	c.fieldErrors = nil
	phone := models.VerifiedPhone(c.state)
	gen := c.beginLocked()
	c.mu.Unlock()

	err := c.verifier.VerifyCode(ctx, models.CodeSubmission{
		PhoneNumber:      phone,
		VerificationCode: digits.Join(),
	})

	c.mu.Lock()
	if !c.settleLocked(gen) {
		return c.dropLocked(ctx, "code")
	}
	var fx effects
	if err != nil {
		c.errMsg = userMessage(err, MsgCodeInvalid)
		fx.events = append(fx.events, c.eventLocked(c.state.Step(), models.ReasonCodeRejected, phone))
	} else {
		ev := c.transitionLocked(models.Complete{}, models.ReasonCodeAccepted, phone)
		c.outcome = models.OutcomeRedirectCompleteRegistration
		ev.Outcome = c.outcome
		fx.events = append(fx.events, ev)
		fx.navigate = c.outcome
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnContext(ctx, "code verification failed", "error", err)
	}
	c.apply(ctx, fx)
	return nil
}

// ResetToPhoneEntry is the "use a different phone number" path. From
// AwaitingCode it returns to AwaitingPhone, discarding the verified phone,
// the typed phone and the code, and invalidating any code check in flight.
// In any other state it does nothing. It never fails.
func (c *Controller) ResetToPhoneEntry(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.outcome.IsTerminal() || c.state.Step() != models.StepAwaitingCode {
		c.mu.Unlock()
		return
	}
	phone := models.VerifiedPhone(c.state)
	c.generation++
	c.submitting = false
	c.code = models.CodeDigits{}
	c.focus = 0
	c.phoneInput = ""
	ev := c.transitionLocked(models.AwaitingPhone{}, models.ReasonPhoneReset, phone)
	c.mu.Unlock()

	c.apply(ctx, effects{events: []models.TransitionEvent{ev}})
}

// Snapshot returns a copy of the flow's observable state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fieldErrors map[string]string
	if len(c.fieldErrors) > 0 {
		fieldErrors = make(map[string]string, len(c.fieldErrors))
		for k, v := range c.fieldErrors {
			fieldErrors[k] = v
		}
	}
	return models.Snapshot{
		State:       c.state,
		Step:        c.state.Step(),
		Phone:       models.VerifiedPhone(c.state),
		PhoneInput:  c.phoneInput,
		Code:        c.code,
		Focus:       c.focus,
		Error:       c.errMsg,
		FieldErrors: fieldErrors,
		Submitting:  c.submitting,
		Outcome:     c.outcome,
	}
}

// Close tears the flow down. Results of calls still in flight are dropped and
// every later operation returns ErrFlowClosed. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	c.submitting = false
}

func (c *Controller) checkLocked(step models.Step, submission bool) error {
	switch {
	case c.closed:
		return ErrFlowClosed
	case c.outcome.IsTerminal():
		return ErrFlowTerminated
	case submission && c.submitting:
		return ErrSubmissionInFlight
	case c.state.Step() != step:
		return ErrInvalidState
	}
	return nil
}

func (c *Controller) beginLocked() uint64 {
	c.submitting = true
	return c.generation
}

// settleLocked reports whether a result from the call started at gen may
// still be applied, and clears the in-flight flag when it may.
func (c *Controller) settleLocked(gen uint64) bool {
	if c.generation != gen {
		return false
	}
	c.submitting = false
	return true
}

// dropLocked discards a late result and releases the lock.
func (c *Controller) dropLocked(ctx context.Context, call string) error {
	closed := c.closed
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "dropping late verification result", "call", call, "closed", closed)
	if closed {
		return ErrFlowClosed
	}
	return nil
}

func (c *Controller) transitionLocked(to models.FlowState, reason models.TransitionReason, phone string) models.TransitionEvent {
	from := c.state.Step()
	c.state = to
	c.errMsg = ""
	c.fieldErrors = nil
	return c.eventLocked(from, reason, phone)
}

func (c *Controller) eventLocked(from models.Step, reason models.TransitionReason, phone string) models.TransitionEvent {
	return models.TransitionEvent{
		From:      from,
		To:        c.state.Step(),
		Outcome:   c.outcome,
		Reason:    reason,
		Phone:     phone,
		Timestamp: c.now(),
	}
}

func (c *Controller) redirectLocked(outcome models.Outcome, reason models.TransitionReason) effects {
	c.outcome = outcome
	ev := c.eventLocked(c.state.Step(), reason, "")
	return effects{events: []models.TransitionEvent{ev}, navigate: outcome}
}

func (c *Controller) apply(ctx context.Context, fx effects) {
	if c.observe != nil {
		for _, ev := range fx.events {
			c.observe(ctx, ev)
		}
	}
	switch fx.navigate {
	case models.OutcomeRedirectRegistration:
		c.nav.RedirectToRegistration()
	case models.OutcomeRedirectCompleteRegistration:
		c.nav.RedirectToCompleteRegistration()
	}
}

// userMessage picks the step message for a rejection and the generic
// fallback for anything else.
func userMessage(err error, rejected string) string {
	if errors.Is(err, ports.ErrRejected) {
		return rejected
	}
	return MsgFallback
}
