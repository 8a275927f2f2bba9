package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetUsedKeyPrefix = "reset:used:"

// ResetLedger records consumed reset token IDs in Redis so each token works once.
type ResetLedger struct {
	rdb *redis.Client
}

func NewResetLedger(rdb *redis.Client) *ResetLedger {
	return &ResetLedger{rdb: rdb}
}

// Consume marks jti as used and reports whether this call was the first. The mark expires with
// the token, after which the signature check rejects it anyway.
func (l *ResetLedger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	return l.rdb.SetNX(ctx, resetUsedKeyPrefix+jti, "1", ttl).Result()
}

// Release forgets jti so the token can be used again, for when the reset it guarded did not happen.
func (l *ResetLedger) Release(ctx context.Context, jti string) error {
	return l.rdb.Del(ctx, resetUsedKeyPrefix+jti).Err()
}
