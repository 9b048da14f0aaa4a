package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
	"verifyflow/internal/verification/ports/mocks"
	"verifyflow/internal/verification/store/ledger"
)

type failingLedger struct{}

func (failingLedger) IsConsumed(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestLedgerGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("unconsumed token is passed through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mocks.NewMockTokenVerifier(ctrl)
		next.EXPECT().VerifyToken(gomock.Any(), "tok").Return(models.TokenResult{Token: "jti"}, nil)

		guard := NewLedgerGuard(next, ledger.NewInMemory())
		res, err := guard.VerifyToken(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, "jti", res.Token)
	})

	t.Run("consumed token is rejected without calling through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mocks.NewMockTokenVerifier(ctrl)

		l := ledger.NewInMemory()
		require.NoError(t, l.MarkConsumed(ctx, "tok", time.Hour))

		guard := NewLedgerGuard(next, l)
		res, err := guard.VerifyToken(ctx, "tok")
		require.ErrorIs(t, err, ErrConsumed)
		assert.ErrorIs(t, err, ports.ErrRejected)
		assert.Empty(t, res.Token)
	})

	t.Run("ledger failure is an error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		guard := NewLedgerGuard(mocks.NewMockTokenVerifier(ctrl), failingLedger{})
		_, err := guard.VerifyToken(ctx, "tok")
		assert.ErrorContains(t, err, "check token ledger")
	})
}
