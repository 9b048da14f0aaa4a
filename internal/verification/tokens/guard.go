package tokens

import (
	"context"
	"fmt"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

// ConsumedChecker reports whether a completed flow already used a token.
type ConsumedChecker interface {
	IsConsumed(ctx context.Context, token string) (bool, error)
}

// ErrConsumed is returned for a token that already completed a flow. It wraps
// ports.ErrRejected.
var ErrConsumed = fmt.Errorf("token already consumed: %w", ports.ErrRejected)

// LedgerGuard refuses tokens that already completed a flow with ErrConsumed,
// which the flow treats like any other token rejection.
type LedgerGuard struct {
	next   ports.TokenVerifier
	ledger ConsumedChecker
}

func NewLedgerGuard(next ports.TokenVerifier, ledger ConsumedChecker) *LedgerGuard {
	return &LedgerGuard{next: next, ledger: ledger}
}

func (g *LedgerGuard) VerifyToken(ctx context.Context, token string) (models.TokenResult, error) {
	consumed, err := g.ledger.IsConsumed(ctx, token)
	if err != nil {
		return models.TokenResult{}, fmt.Errorf("check token ledger: %w", err)
	}
	if consumed {
		return models.TokenResult{}, ErrConsumed
	}
	return g.next.VerifyToken(ctx, token)
}
