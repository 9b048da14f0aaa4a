package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"verifyflow/pkg/platform/sentinel"
)

const consumedTokenKeyPrefix = "verify:consumed:"

// RedisLedger shares consumed tokens across instances.
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

// MarkConsumed uses SET NX EX so the first completion wins.
func (l *RedisLedger) MarkConsumed(ctx context.Context, token string, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	ok, err := l.client.SetNX(ctx, consumedTokenKeyPrefix+tokenKey(token), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("mark token consumed: %w", err)
	}
	if !ok {
		return fmt.Errorf("mark token consumed: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (l *RedisLedger) IsConsumed(ctx context.Context, token string) (bool, error) {
	n, err := l.client.Exists(ctx, consumedTokenKeyPrefix+tokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check consumed token: %w", err)
	}
	return n > 0, nil
}
