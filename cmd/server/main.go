package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"verifyflow/internal/device"
	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/httpserver"
	"verifyflow/internal/platform/logger"
	httpmetrics "verifyflow/internal/platform/metrics"
	devicemw "verifyflow/internal/platform/middleware"
	verifyaudit "verifyflow/internal/verification/audit"
	"verifyflow/internal/verification/handler"
	"verifyflow/internal/verification/metrics"
	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/service"
	"verifyflow/pkg/platform/audit/publisher"
	"verifyflow/pkg/platform/events"
	"verifyflow/pkg/platform/httputil"
	"verifyflow/pkg/platform/middleware/metadata"
	"verifyflow/pkg/platform/middleware/request"
	"verifyflow/pkg/platform/middleware/requesttime"
	"verifyflow/pkg/platform/privacy"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flowMetrics := metrics.New(reg)
	httpMetrics := httpmetrics.New(reg)

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	auditStore, err := buildAuditStore(ctx, cfg, infra)
	if err != nil {
		return err
	}
	pubOpts := []publisher.Option{publisher.WithLogger(log)}
	if cfg.AuditBuffer > 0 {
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(cfg.AuditBuffer))
	}
	auditPublisher := publisher.NewPublisher(auditStore, pubOpts...)
	defer auditPublisher.Close()

	consumed := buildLedger(infra)
	verifiers, err := buildVerifier(cfg, log, consumed)
	if err != nil {
		return err
	}

	bus := events.New[models.TransitionEvent]()
	bus.Subscribe(flowMetrics.ObserveTransition)
	bus.Subscribe(verifyaudit.NewSubscriber(auditPublisher, log).Handle)

	devices := device.NewService(cfg.DeviceBinding)
	sessions := service.New(metrics.Instrument(verifiers.verifier, flowMetrics), service.Config{
		SessionTTL:                cfg.SessionTTL,
		LedgerTTL:                 cfg.TokenLedgerTTL,
		RegistrationRoute:         cfg.RegistrationRoute,
		CompleteRegistrationRoute: cfg.CompleteRegistrationRoute,
	},
		service.WithLogger(log),
		service.WithMetrics(flowMetrics),
		service.WithBus(bus),
		service.WithLedger(consumed),
		service.WithPhoneHasher(privacy.NewPhoneHasher(cfg.PhoneHashKey)),
		service.WithDevices(devices),
	)
	defer sessions.Shutdown()

	handlerOpts := []handler.Option{submitLimits(cfg, infra, log)}
	if verifiers.devOTP != nil {
		handlerOpts = append(handlerOpts, handler.WithDevOTP(verifiers.devOTP))
		log.Warn("development OTP verifier enabled; codes are served on /dev/otp")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(devicemw.Device(devices))
	r.Use(httpMetrics.Middleware)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	handler.New(sessions, log, handlerOpts...).Register(r)
	r.Get("/healthz", healthz(infra, log))
	r.Handle("/metrics", httpmetrics.Handler(reg))

	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout, log)
	})
	g.Go(func() error {
		return sessions.Run(gctx)
	})
	if purger, ok := consumed.(interface{ Purge() int }); ok {
		g.Go(func() error {
			return runPurge(gctx, purger, cfg.TokenLedgerTTL)
		})
	}
	return g.Wait()
}

// runPurge drops expired entries from the in-memory ledger.
func runPurge(ctx context.Context, ledger interface{ Purge() int }, ttl time.Duration) error {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ledger.Purge()
		}
	}
}

func healthz(infra *infra, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := infra.Health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
