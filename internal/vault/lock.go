package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RotationLock is a Redis-backed exclusive lock (SET NX PX) guarding
// rotateMasterKey so only one rotation runs against the vault at a time,
// adapted from the teacher's redis rate-limiting pattern (internal/auth/ratelimit.go
// in the wider pack) generalized to a mutual-exclusion lock.
type RotationLock struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRotationLock(rdb *redis.Client, ttl time.Duration) *RotationLock {
	return &RotationLock{redis: rdb, ttl: ttl}
}

const rotationLockKey = "occam:vault:master-key-rotation"

// Acquire returns a token that must be passed to Release, or an error if
// another rotation already holds the lock.
func (l *RotationLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, rotationLockKey, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("vault: acquire rotation lock: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("vault: master key rotation already in progress")
	}
	return token, nil
}

// Release clears the lock only if token still matches, so a stale caller
// whose TTL has expired never clobbers a newer holder's lock.
func (l *RotationLock) Release(ctx context.Context, token string) error {
	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	return l.redis.Eval(ctx, script, []string{rotationLockKey}, token).Err()
}
