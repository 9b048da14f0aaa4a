package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
	"verifyflow/internal/verification/ports/mocks"
)

func TestObserveTransition(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTransition(context.Background(), models.TransitionEvent{
		From:   models.StepPendingTokenCheck,
		To:     models.StepAwaitingPhone,
		Reason: models.ReasonTokenVerified,
	})
	m.ObserveTransition(context.Background(), models.TransitionEvent{
		From:    models.StepAwaitingCode,
		To:      models.StepComplete,
		Reason:  models.ReasonCodeAccepted,
		Outcome: models.OutcomeRedirectCompleteRegistration,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("pending_token_check", "awaiting_phone", "token_verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("redirect_complete_registration")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Outcomes))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition(context.Background(), models.TransitionEvent{})
		m.ObserveRemoteCall("token", nil, time.Second)
		m.SetActiveSessions(3)
	})
}

func TestInstrumentedVerifier(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockVerifier(ctrl)
	reg := prometheus.NewRegistry()
	m := New(reg)
	v := Instrument(next, m)

	next.EXPECT().VerifyToken(gomock.Any(), "tok").Return(models.TokenResult{Token: "p"}, nil)
	next.EXPECT().VerifyPhone(gomock.Any(), "+15551234567").Return(ports.ErrRejected)
	next.EXPECT().VerifyCode(gomock.Any(), gomock.Any()).Return(errors.New("boom"))

	res, err := v.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "p", res.Token)
	assert.ErrorIs(t, v.VerifyPhone(context.Background(), "+15551234567"), ports.ErrRejected)
	assert.Error(t, v.VerifyCode(context.Background(), models.CodeSubmission{}))

	assert.Equal(t, 3, testutil.CollectAndCount(m.RemoteLatency))

	results := remoteResults(t, reg)
	assert.ElementsMatch(t, []string{"ok", "rejected", "error"}, results)
}

func TestInstrumentedVerifierTokenWithoutProof(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockVerifier(ctrl)
	reg := prometheus.NewRegistry()
	v := Instrument(next, New(reg))

	next.EXPECT().VerifyToken(gomock.Any(), "empty").Return(models.TokenResult{}, nil)
	next.EXPECT().VerifyToken(gomock.Any(), "used").Return(models.TokenResult{}, fmt.Errorf("token already consumed: %w", ports.ErrRejected))

	_, err := v.VerifyToken(context.Background(), "empty")
	require.NoError(t, err)
	_, err = v.VerifyToken(context.Background(), "used")
	require.ErrorIs(t, err, ports.ErrRejected)

	assert.ElementsMatch(t, []string{"no_proof", "rejected"}, remoteResults(t, reg))
}

// remoteResults returns the result label of every remote call series.
func remoteResults(t *testing.T, reg *prometheus.Registry) []string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var results []string
	for _, f := range families {
		if f.GetName() != "verifyflow_remote_call_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" {
					results = append(results, l.GetValue())
				}
			}
		}
	}
	return results
}
