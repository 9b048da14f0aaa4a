// Package handler exposes verification sessions over HTTP for the page that
// renders them.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"verifyflow/internal/verification/flow"
	"verifyflow/internal/verification/models"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/httputil"
	"verifyflow/pkg/requestcontext"
)

// Service defines the session operations the handler needs.
type Service interface {
	Start(ctx context.Context, token string) (models.SessionView, error)
	Get(ctx context.Context, sessionID string) (models.SessionView, error)
	SetPhoneInput(ctx context.Context, sessionID, phone string) (models.SessionView, error)
	SubmitPhone(ctx context.Context, sessionID, phone string) (models.SessionView, error)
	EnterDigit(ctx context.Context, sessionID string, index int, value string) (models.SessionView, error)
	Backspace(ctx context.Context, sessionID string, index int) (models.SessionView, error)
	SubmitCode(ctx context.Context, sessionID string, digits *models.CodeDigits) (models.SessionView, error)
	Reset(ctx context.Context, sessionID string) (models.SessionView, error)
	End(ctx context.Context, sessionID string) error
}

// OTPSource returns the code pending for a phone. Only the development
// verifier implements it.
type OTPSource interface {
	Peek(phone string) (string, bool)
}

type Option func(*Handler)

// WithDevOTP mounts GET /dev/otp backed by src.
func WithDevOTP(src OTPSource) Option {
	return func(h *Handler) {
		h.otp = src
	}
}

// WithSubmitLimits wraps the phone and code submission routes. Either may be
// nil.
func WithSubmitLimits(phone, code func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.phoneLimit = phone
		h.codeLimit = code
	}
}

// Handler wires verification endpoints to the session service.
type Handler struct {
	service    Service
	logger     *slog.Logger
	otp        OTPSource
	phoneLimit func(http.Handler) http.Handler
	codeLimit  func(http.Handler) http.Handler
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/verify", h.HandleStart)
	r.Route("/verify/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Delete("/", h.HandleEnd)
		r.Put("/phone", h.HandleSetPhone)
		r.With(orPass(h.phoneLimit)).Post("/phone", h.HandleSubmitPhone)
		r.Post("/code/keys", h.HandleKey)
		r.With(orPass(h.codeLimit)).Post("/code", h.HandleSubmitCode)
		r.Post("/reset", h.HandleReset)
	})
	if h.otp != nil {
		r.Get("/dev/otp", h.HandleDevOTP)
	}
}

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// HandleStart handles GET /verify?token=. A token that does not open a flow
// answers with where to go instead.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	view, err := h.service.Start(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to start verification session",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if view.Snapshot.Outcome.IsTerminal() {
		h.logger.InfoContext(ctx, "verification session redirected at start",
			"request_id", requestID,
			"redirect_to", view.RedirectTo,
		)
		httputil.WriteJSON(w, http.StatusOK, &RedirectResponse{RedirectTo: view.RedirectTo})
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, FromView(view))
}

// HandleGet handles GET /verify/sessions/{sessionID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.service.Get(ctx, chi.URLParam(r, "sessionID"))
	h.respond(ctx, w, "get", view, err)
}

// HandleSetPhone handles PUT /verify/sessions/{sessionID}/phone.
func (h *Handler) HandleSetPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PhoneRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	view, err := h.service.SetPhoneInput(ctx, chi.URLParam(r, "sessionID"), req.Phone)
	h.respond(ctx, w, "set_phone", view, err)
}

// HandleSubmitPhone handles POST /verify/sessions/{sessionID}/phone.
func (h *Handler) HandleSubmitPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PhoneRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	view, err := h.service.SubmitPhone(ctx, chi.URLParam(r, "sessionID"), req.Phone)
	h.respond(ctx, w, "submit_phone", view, err)
}

// HandleKey handles POST /verify/sessions/{sessionID}/code/keys.
func (h *Handler) HandleKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[KeyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var (
		view models.SessionView
		err  error
	)
	if req.IsBackspace() {
		view, err = h.service.Backspace(ctx, sessionID, *req.Index)
	} else {
		view, err = h.service.EnterDigit(ctx, sessionID, *req.Index, req.Key)
	}
	h.respond(ctx, w, "key", view, err)
}

// HandleSubmitCode handles POST /verify/sessions/{sessionID}/code.
func (h *Handler) HandleSubmitCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CodeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	view, err := h.service.SubmitCode(ctx, chi.URLParam(r, "sessionID"), req.Digits())
	h.respond(ctx, w, "submit_code", view, err)
}

// HandleReset handles POST /verify/sessions/{sessionID}/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.service.Reset(ctx, chi.URLParam(r, "sessionID"))
	h.respond(ctx, w, "reset", view, err)
}

// HandleEnd handles DELETE /verify/sessions/{sessionID}.
func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.End(ctx, chi.URLParam(r, "sessionID")); err != nil {
		h.logFailure(ctx, "end", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDevOTP handles GET /dev/otp?phone=.
func (h *Handler) HandleDevOTP(w http.ResponseWriter, r *http.Request) {
	phone := flow.NormalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "phone is required"))
		return
	}
	code, ok := h.otp.Peek(phone)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no code pending for phone"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &OTPResponse{Phone: phone, Code: code})
}

// respond writes the view, or the error. Local validation failures are
// answered with 422 and the view, which carries the field errors.
func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, op string, view models.SessionView, err error) {
	if err == nil {
		httputil.WriteJSON(w, http.StatusOK, FromView(view))
		return
	}
	if dErrors.HasCode(err, dErrors.CodeValidation) && view.SessionID != "" {
		h.logger.InfoContext(ctx, "verification input rejected",
			"request_id", requestcontext.RequestID(ctx),
			"op", op,
			"error", err,
		)
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, FromView(view))
		return
	}
	h.logFailure(ctx, op, err)
	httputil.WriteError(w, err)
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"op", op,
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "verification request failed", attrs...)
		return
	}
	h.logger.WarnContext(ctx, "verification request refused", attrs...)
}
