package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"

	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/kafka"
	"verifyflow/internal/platform/postgres"
	"verifyflow/internal/platform/redis"
	"verifyflow/internal/ratelimit"
	ratelimitstore "verifyflow/internal/ratelimit/store"
	"verifyflow/internal/verification/client"
	"verifyflow/internal/verification/devotp"
	"verifyflow/internal/verification/handler"
	"verifyflow/internal/verification/ports"
	"verifyflow/internal/verification/store/ledger"
	"verifyflow/internal/verification/tokens"
	"verifyflow/pkg/platform/audit"
	kafkastore "verifyflow/pkg/platform/audit/store/kafka"
	"verifyflow/pkg/platform/audit/store/memory"
	pgstore "verifyflow/pkg/platform/audit/store/postgres"
	"verifyflow/pkg/requestcontext"
)

const startupTimeout = 15 * time.Second

// infra holds the optional backing services.
type infra struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	in := &infra{}
	rc, err := redis.New(ctx, cfg.RedisURL, redis.Options{})
	if err != nil {
		return nil, err
	}
	in.redis = rc
	if rc != nil {
		log.Info("redis connected")
	}

	if cfg.AuditSink == config.AuditSinkPostgres {
		pool, err := postgres.New(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.pool = pool
		log.Info("postgres connected")
	}

	if cfg.AuditSink == config.AuditSinkKafka {
		kc, err := kafka.NewProducer(ctx, cfg.KafkaBrokerList(), cfg.AuditKafkaTopic)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.kafka = kc
		log.Info("kafka connected", "topic", cfg.AuditKafkaTopic)
	}
	return in, nil
}

// Health pings every configured backing service.
func (in *infra) Health(ctx context.Context) error {
	var errs []error
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if in.pool != nil {
		if err := in.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if in.kafka != nil {
		if err := in.kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.pool != nil {
		in.pool.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}

func buildAuditStore(ctx context.Context, cfg *config.Config, in *infra) (audit.Store, error) {
	switch cfg.AuditSink {
	case config.AuditSinkPostgres:
		store := pgstore.New(in.pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		return store, nil
	case config.AuditSinkKafka:
		return kafkastore.New(in.kafka, cfg.AuditKafkaTopic), nil
	default:
		return memory.NewInMemoryStore(memory.WithCapacity(cfg.AuditMemoryCapacity)), nil
	}
}

// consumedLedger records and answers token consumption.
type consumedLedger interface {
	MarkConsumed(ctx context.Context, token string, ttl time.Duration) error
	IsConsumed(ctx context.Context, token string) (bool, error)
}

func buildLedger(in *infra) consumedLedger {
	if in.redis != nil {
		return ledger.NewRedis(in.redis.Client)
	}
	return ledger.NewInMemory()
}

type verifiers struct {
	verifier ports.Verifier
	devOTP   *devotp.Verifier
}

// buildVerifier assembles the collaborator: token checks from the remote API
// or the local JWT verifier, guarded by the ledger; phone and code checks from
// the remote API or the development verifier.
func buildVerifier(cfg *config.Config, log *slog.Logger, consumed consumedLedger) (verifiers, error) {
	var remote *client.Client
	if cfg.VerificationAPIURL != "" {
		remote = client.New(cfg.VerificationAPIURL,
			client.WithAPIKey(cfg.VerificationAPIKey),
			client.WithTimeout(cfg.VerificationTimeout),
		)
	}

	var tokenVerifier ports.TokenVerifier
	switch cfg.TokenMode {
	case config.TokenModeJWT:
		var opts []tokens.Option
		if cfg.RegistrationTokenIssuer != "" {
			opts = append(opts, tokens.WithIssuer(cfg.RegistrationTokenIssuer))
		}
		tokenVerifier = tokens.NewJWTVerifier(cfg.RegistrationTokenSecret, opts...)
	default:
		tokenVerifier = remote
	}

	out := verifiers{}
	composite := ports.CompositeVerifier{
		TokenVerifier: tokens.NewLedgerGuard(tokenVerifier, consumed),
	}
	if cfg.DevOTP {
		dev, err := devotp.New(cfg.Env, devotp.WithLogger(log), devotp.WithPeek())
		if err != nil {
			return verifiers{}, err
		}
		composite.PhoneVerifier = dev
		composite.CodeVerifier = dev
		out.devOTP = dev
	} else {
		composite.PhoneVerifier = remote
		composite.CodeVerifier = remote
	}
	out.verifier = composite
	return out, nil
}

// submitLimits throttles phone submissions per client IP and code submissions
// per session, in Redis when it is configured. Only submissions that passed
// local validation count. Both rules are off unless a limit is configured.
func submitLimits(cfg *config.Config, in *infra, log *slog.Logger) handler.Option {
	var store ratelimit.Store = ratelimitstore.NewInMemory()
	if in.redis != nil {
		store = ratelimitstore.NewRedis(in.redis.Client)
	}
	limiter := ratelimit.New(store, log)

	phone := limiter.Limit(ratelimit.Rule{
		Name:   "phone",
		Limit:  cfg.PhoneSubmitLimit,
		Window: cfg.PhoneSubmitWindow,
		Counts: ratelimit.Succeeded,
		Key: func(r *http.Request) string {
			return requestcontext.ClientIP(r.Context())
		},
	})
	code := limiter.Limit(ratelimit.Rule{
		Name:   "code",
		Limit:  cfg.CodeSubmitLimit,
		Window: cfg.CodeSubmitWindow,
		Counts: ratelimit.Succeeded,
		Key: func(r *http.Request) string {
			return chi.URLParam(r, "sessionID")
		},
	})
	return handler.WithSubmitLimits(phone, code)
}
