package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

// Metrics provides observability for verification flows.
type Metrics struct {
	// Transitions by source step, target step and reason
	Transitions *prometheus.CounterVec

	// Terminal navigation outcomes
	Outcomes *prometheus.CounterVec

	// Remote verification latency by call and result
	RemoteLatency *prometheus.HistogramVec

	// Sessions currently held in memory
	ActiveSessions prometheus.Gauge
}

// New registers the flow metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_transitions_total",
			Help: "Verification flow transitions by from step, to step and reason",
		}, []string{"from", "to", "reason"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_outcomes_total",
			Help: "Verification flows that navigated away, by outcome",
		}, []string{"outcome"}),

		RemoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verifyflow_remote_call_duration_seconds",
			Help:    "Duration of remote verification calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"call", "result"}), // result: "ok", "rejected", "error"

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verifyflow_active_sessions",
			Help: "Verification sessions currently held in memory",
		}),
	}
}

// ObserveTransition is an events.Handler for transition events.
func (m *Metrics) ObserveTransition(_ context.Context, ev models.TransitionEvent) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(ev.From), string(ev.To), string(ev.Reason)).Inc()
	if ev.Outcome.IsTerminal() {
		m.Outcomes.WithLabelValues(string(ev.Outcome)).Inc()
	}
}

// ObserveRemoteCall records the duration of a verifier call.
func (m *Metrics) ObserveRemoteCall(call string, err error, d time.Duration) {
	result := "ok"
	switch {
	case errors.Is(err, ports.ErrRejected):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	m.observeRemote(call, result, d)
}

func (m *Metrics) observeRemote(call, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteLatency.WithLabelValues(call, result).Observe(d.Seconds())
}

// SetActiveSessions records the number of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}

// InstrumentedVerifier times every call of the wrapped verifier.
type InstrumentedVerifier struct {
	next    ports.Verifier
	metrics *Metrics
	now     func() time.Time
}

func Instrument(next ports.Verifier, m *Metrics) *InstrumentedVerifier {
	return &InstrumentedVerifier{next: next, metrics: m, now: time.Now}
}

func (v *InstrumentedVerifier) VerifyToken(ctx context.Context, token string) (models.TokenResult, error) {
	start := v.now()
	res, err := v.next.VerifyToken(ctx, token)
	if err == nil && res.Token == "" {
		v.metrics.observeRemote("token", "no_proof", v.now().Sub(start))
		return res, err
	}
	v.metrics.ObserveRemoteCall("token", err, v.now().Sub(start))
	return res, err
}

func (v *InstrumentedVerifier) VerifyPhone(ctx context.Context, phone string) error {
	start := v.now()
	err := v.next.VerifyPhone(ctx, phone)
	v.metrics.ObserveRemoteCall("phone", err, v.now().Sub(start))
	return err
}

func (v *InstrumentedVerifier) VerifyCode(ctx context.Context, req models.CodeSubmission) error {
	start := v.now()
	err := v.next.VerifyCode(ctx, req)
	v.metrics.ObserveRemoteCall("code", err, v.now().Sub(start))
	return err
}
