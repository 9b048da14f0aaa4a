package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"verifyflow/internal/device"
	"verifyflow/internal/verification/flow"
	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
	"verifyflow/internal/verification/ports/mocks"
	"verifyflow/internal/verification/store/ledger"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/events"
	"verifyflow/pkg/platform/privacy"
	"verifyflow/pkg/requestcontext"
)

// =============================================================================
// Service Test Suite
// =============================================================================

type ServiceSuite struct {
	suite.Suite
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	verifier *mocks.MockVerifier
	ledger   *ledger.InMemoryLedger
	clock    *clock
	svc      *Service

	mu     sync.Mutex
	events []models.TransitionEvent
}

func (f *fixture) recorded() []models.TransitionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TransitionEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (s *ServiceSuite) newFixture(opts ...Option) *fixture {
	ctrl := gomock.NewController(s.T())
	f := &fixture{
		verifier: mocks.NewMockVerifier(ctrl),
		ledger:   ledger.NewInMemory(),
		clock:    &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
	}
	bus := events.New[models.TransitionEvent]()
	bus.Subscribe(func(_ context.Context, ev models.TransitionEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(f.clock.Now),
		WithBus(bus),
		WithLedger(f.ledger),
		WithPhoneHasher(privacy.NewPhoneHasher("test-key")),
	}
	f.svc = New(f.verifier, Config{SessionTTL: 10 * time.Minute}, append(base, opts...)...)
	return f
}

// started returns a fixture with one session in AwaitingPhone.
func (s *ServiceSuite) started(opts ...Option) (*fixture, string) {
	f := s.newFixture(opts...)
	f.verifier.EXPECT().VerifyToken(gomock.Any(), "tok").Return(models.TokenResult{Token: "proof"}, nil)
	view, err := f.svc.Start(context.Background(), "tok")
	s.Require().NoError(err)
	s.Require().Equal(models.StepAwaitingPhone, view.Snapshot.Step)
	return f, view.SessionID
}

// awaitingCode returns a fixture with one session whose phone was accepted.
func (s *ServiceSuite) awaitingCode() (*fixture, string) {
	f, sid := s.started()
	f.verifier.EXPECT().VerifyPhone(gomock.Any(), "+15551234567").Return(nil)
	view, err := f.svc.SubmitPhone(context.Background(), sid, "+1 (555) 123-4567")
	s.Require().NoError(err)
	s.Require().Equal(models.StepAwaitingCode, view.Snapshot.Step)
	return f, sid
}

var fullCode = models.CodeDigits{"1", "2", "3", "4", "5", "6"}

// =============================================================================
// Start Tests
// =============================================================================

func (s *ServiceSuite) TestStart() {
	ctx := context.Background()

	s.Run("verified token opens a session", func() {
		f, sid := s.started()
		s.NotEmpty(sid)
		s.Equal(1, f.svc.Count())

		view, err := f.svc.Get(context.Background(), sid)
		s.Require().NoError(err)
		s.Empty(view.RedirectTo)
	})

	s.Run("missing token redirects to registration without keeping a session", func() {
		f := s.newFixture()
		view, err := f.svc.Start(ctx, "")
		s.Require().NoError(err)
		s.Equal("/register", view.RedirectTo)
		s.Equal(models.OutcomeRedirectRegistration, view.Snapshot.Outcome)
		s.Zero(f.svc.Count())

		_, err = f.svc.Get(ctx, view.SessionID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejected token redirects to registration", func() {
		f := s.newFixture()
		f.verifier.EXPECT().VerifyToken(gomock.Any(), "tok").Return(models.TokenResult{}, ports.ErrRejected)
		view, err := f.svc.Start(ctx, "tok")
		s.Require().NoError(err)
		s.Equal("/register", view.RedirectTo)
		s.Zero(f.svc.Count())

		evs := f.recorded()
		s.Require().Len(evs, 1)
		s.Equal(models.ReasonTokenRejected, evs[0].Reason)
		s.Equal(view.SessionID, evs[0].SessionID)
	})

	s.Run("custom routes are honored", func() {
		ctrl := gomock.NewController(s.T())
		svc := New(mocks.NewMockVerifier(ctrl), Config{RegistrationRoute: "/signup"},
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		view, err := svc.Start(ctx, "")
		s.Require().NoError(err)
		s.Equal("/signup", view.RedirectTo)
	})
}

// =============================================================================
// Phone Tests
// =============================================================================

func (s *ServiceSuite) TestPhone() {
	ctx := context.Background()

	s.Run("phone input is normalized", func() {
		f, sid := s.started()
		view, err := f.svc.SetPhoneInput(ctx, sid, "+1 555-123")
		s.Require().NoError(err)
		s.Equal("+1555123", view.Snapshot.PhoneInput)
	})

	s.Run("invalid phone is a validation error with field errors on the view", func() {
		f, sid := s.started()
		view, err := f.svc.SubmitPhone(ctx, sid, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(flow.MsgPhoneRequired, view.Snapshot.FieldErrors[flow.FieldPhone])
		s.Equal(models.StepAwaitingPhone, view.Snapshot.Step)
	})

	s.Run("accepted phone moves to code entry and publishes a masked event", func() {
		f, _ := s.awaitingCode()
		evs := f.recorded()
		s.Require().Len(evs, 2)
		ev := evs[1]
		s.Equal(models.ReasonPhoneAccepted, ev.Reason)
		s.Empty(ev.Phone)
		s.NotEmpty(ev.PhoneHash)
		s.Equal(privacy.MaskPhone("+15551234567"), ev.PhoneMasked)
	})

	s.Run("rejected phone stays on phone entry with a message", func() {
		f, sid := s.started()
		f.verifier.EXPECT().VerifyPhone(gomock.Any(), "+15551234567").Return(ports.ErrRejected)
		view, err := f.svc.SubmitPhone(ctx, sid, "+15551234567")
		s.Require().NoError(err)
		s.Equal(models.StepAwaitingPhone, view.Snapshot.Step)
		s.Equal(flow.MsgPhoneSendFailed, view.Snapshot.Error)
	})

	s.Run("phone entry in the wrong step is a conflict", func() {
		f, sid := s.awaitingCode()
		_, err := f.svc.SetPhoneInput(ctx, sid, "+1555")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Code Tests
// =============================================================================

func (s *ServiceSuite) TestCode() {
	ctx := context.Background()

	s.Run("digits typed one by one are submitted when no code is given", func() {
		f, sid := s.awaitingCode()
		for i, d := range fullCode {
			_, err := f.svc.EnterDigit(ctx, sid, i, d)
			s.Require().NoError(err)
		}
		f.verifier.EXPECT().VerifyCode(gomock.Any(), models.CodeSubmission{
			PhoneNumber:      "+15551234567",
			VerificationCode: "123456",
		}).Return(nil)

		view, err := f.svc.SubmitCode(ctx, sid, nil)
		s.Require().NoError(err)
		s.Equal("/complete-registration", view.RedirectTo)
		s.Equal(models.StepComplete, view.Snapshot.Step)
		s.Zero(f.svc.Count())

		consumed, err := f.ledger.IsConsumed(ctx, "tok")
		s.Require().NoError(err)
		s.True(consumed)

		_, err = f.svc.Get(ctx, sid)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("backspace clears and moves focus", func() {
		f, sid := s.awaitingCode()
		_, err := f.svc.EnterDigit(ctx, sid, 0, "1")
		s.Require().NoError(err)
		view, err := f.svc.Backspace(ctx, sid, 1)
		s.Require().NoError(err)
		s.Equal(0, view.Snapshot.Focus)
	})

	s.Run("out of range position is a bad request", func() {
		f, sid := s.awaitingCode()
		_, err := f.svc.EnterDigit(ctx, sid, 6, "1")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		_, err = f.svc.Backspace(ctx, sid, -1)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("incomplete code is a validation error", func() {
		f, sid := s.awaitingCode()
		view, err := f.svc.SubmitCode(ctx, sid, &models.CodeDigits{"1", "2"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(flow.MsgCodeLength, view.Snapshot.FieldErrors[flow.FieldCode])
		s.Equal(1, f.svc.Count())
	})

	s.Run("rejected code keeps the session", func() {
		f, sid := s.awaitingCode()
		f.verifier.EXPECT().VerifyCode(gomock.Any(), gomock.Any()).Return(ports.ErrRejected)
		view, err := f.svc.SubmitCode(ctx, sid, &fullCode)
		s.Require().NoError(err)
		s.Equal(flow.MsgCodeInvalid, view.Snapshot.Error)
		s.Equal(fullCode, view.Snapshot.Code)
		s.Equal(1, f.svc.Count())
	})

	s.Run("ledger failure does not block completion", func() {
		f, sid := s.awaitingCode()
		s.Require().NoError(f.ledger.MarkConsumed(ctx, "tok", time.Hour))
		f.verifier.EXPECT().VerifyCode(gomock.Any(), gomock.Any()).Return(nil)
		view, err := f.svc.SubmitCode(ctx, sid, &fullCode)
		s.Require().NoError(err)
		s.Equal("/complete-registration", view.RedirectTo)
	})
}

// =============================================================================
// Reset Tests
// =============================================================================

func (s *ServiceSuite) TestReset() {
	ctx := context.Background()

	s.Run("reset returns to phone entry", func() {
		f, sid := s.awaitingCode()
		view, err := f.svc.Reset(ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.StepAwaitingPhone, view.Snapshot.Step)
		s.Empty(view.Snapshot.Phone)
		s.Empty(view.Snapshot.PhoneInput)

		evs := f.recorded()
		s.Equal(models.ReasonPhoneReset, evs[len(evs)-1].Reason)
	})

	s.Run("reset outside code entry is a no-op", func() {
		f, sid := s.started()
		view, err := f.svc.Reset(ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.StepAwaitingPhone, view.Snapshot.Step)
		s.Len(f.recorded(), 1)
	})
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func (s *ServiceSuite) TestLifecycle() {
	ctx := context.Background()

	s.Run("malformed session id is not found", func() {
		f := s.newFixture()
		_, err := f.svc.Get(ctx, "not-a-uuid")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("end removes the session and publishes session_ended", func() {
		f, sid := s.started()
		s.Require().NoError(f.svc.End(ctx, sid))
		s.Zero(f.svc.Count())

		evs := f.recorded()
		s.Equal(models.ReasonSessionEnded, evs[len(evs)-1].Reason)

		err := f.svc.End(ctx, sid)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("idle session expires on access", func() {
		f, sid := s.started()
		f.clock.Advance(11 * time.Minute)
		_, err := f.svc.Get(ctx, sid)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Zero(f.svc.Count())

		evs := f.recorded()
		s.Equal(models.ReasonSessionExpired, evs[len(evs)-1].Reason)
	})

	s.Run("access refreshes idle time", func() {
		f, sid := s.started()
		f.clock.Advance(6 * time.Minute)
		_, err := f.svc.Get(ctx, sid)
		s.Require().NoError(err)
		f.clock.Advance(6 * time.Minute)
		_, err = f.svc.Get(ctx, sid)
		s.NoError(err)
	})

	s.Run("sweep ends only idle sessions", func() {
		f, idle := s.started()
		f.clock.Advance(8 * time.Minute)
		f.verifier.EXPECT().VerifyToken(gomock.Any(), "tok2").Return(models.TokenResult{Token: "p2"}, nil)
		fresh, err := f.svc.Start(ctx, "tok2")
		s.Require().NoError(err)
		f.clock.Advance(3 * time.Minute)

		s.Equal(1, f.svc.Sweep(ctx, f.clock.Now()))
		_, err = f.svc.Get(ctx, idle)
		s.Error(err)
		_, err = f.svc.Get(ctx, fresh.SessionID)
		s.NoError(err)
	})

	s.Run("request time drives expiry without a clock", func() {
		f, sid := s.started(WithClock(nil))
		later := requestcontext.WithTime(ctx, time.Now().Add(11*time.Minute))
		_, err := f.svc.Get(later, sid)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Zero(f.svc.Count())
	})

	s.Run("shutdown closes every session", func() {
		f, _ := s.started()
		f.svc.Shutdown()
		s.Zero(f.svc.Count())
	})

	s.Run("run stops when the context is cancelled", func() {
		f := s.newFixture()
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- f.svc.Run(runCtx) }()
		cancel()
		select {
		case err := <-done:
			s.NoError(err)
		case <-time.After(time.Second):
			s.Fail("run did not stop")
		}
	})
}

// =============================================================================
// Device Binding Tests
// =============================================================================

func (s *ServiceSuite) TestDeviceBinding() {
	devices := device.NewService(true)
	chrome := devices.ComputeFingerprint("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	firefox := devices.ComputeFingerprint("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0")
	s.Require().NotEqual(chrome, firefox)

	s.Run("session is only visible from the device that opened it", func() {
		f := s.newFixture(WithDevices(devices))
		f.verifier.EXPECT().VerifyToken(gomock.Any(), "tok").Return(models.TokenResult{Token: "proof"}, nil)
		view, err := f.svc.Start(requestcontext.WithDeviceFingerprint(context.Background(), chrome), "tok")
		s.Require().NoError(err)

		_, err = f.svc.Get(requestcontext.WithDeviceFingerprint(context.Background(), chrome), view.SessionID)
		s.NoError(err)

		_, err = f.svc.Get(requestcontext.WithDeviceFingerprint(context.Background(), firefox), view.SessionID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(1, f.svc.Count(), "a foreign device does not end the session")
	})
}

// =============================================================================
// Tracing Tests
// =============================================================================

func (s *ServiceSuite) TestSpans() {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	f, sid := s.started(WithTracerProvider(tp))

	f.verifier.EXPECT().VerifyPhone(gomock.Any(), "+15551234567").Return(nil)
	_, err := f.svc.SubmitPhone(context.Background(), sid, "+15551234567")
	s.Require().NoError(err)

	var names []string
	for _, span := range spans.Ended() {
		names = append(names, span.Name())
	}
	s.Equal([]string{"verification.session.start", "verification.session.submit_phone"}, names)
}

// =============================================================================
// Error Translation Tests
// =============================================================================

func (s *ServiceSuite) TestTranslateFlowError() {
	cases := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"in flight", flow.ErrSubmissionInFlight, dErrors.CodeConflict},
		{"wrong step", flow.ErrInvalidState, dErrors.CodeConflict},
		{"terminated", flow.ErrFlowTerminated, dErrors.CodeConflict},
		{"closed", flow.ErrFlowClosed, dErrors.CodeConflict},
		{"index", flow.ErrCodeIndex, dErrors.CodeBadRequest},
		{"validation", &flow.ValidationError{Fields: map[string]string{flow.FieldCode: flow.MsgCodeDigit}}, dErrors.CodeValidation},
		{"unknown", errors.New("boom"), dErrors.CodeInternal},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.Equal(tc.code, dErrors.CodeOf(translateFlowError(tc.err)))
		})
	}
}
