package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const chargeGuardKey = "idem:charge:%s"

// ChargeGuard makes sure only one charge attempt per idempotency key is in
// flight at a time.
type ChargeGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisChargeGuard holds attempt keys in Redis with SETNX and a TTL.
type RedisChargeGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisChargeGuard(client redis.Cmdable, ttl time.Duration) *RedisChargeGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisChargeGuard{client: client, ttl: ttl}
}

func (g *RedisChargeGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, fmt.Sprintf(chargeGuardKey, key), time.Now().Unix(), g.ttl).Result()
}

func (g *RedisChargeGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, fmt.Sprintf(chargeGuardKey, key)).Err()
}

type noopChargeGuard struct{}

// NoopChargeGuard is used when Redis is not configured; the order row lock
// still prevents a double capture.
func NoopChargeGuard() ChargeGuard { return noopChargeGuard{} }

func (noopChargeGuard) Acquire(context.Context, string) (bool, error) { return true, nil }
func (noopChargeGuard) Release(context.Context, string) error         { return nil }

// ChargeIdempotencyKey derives the key of one checkout attempt from the order
// and the card token, so a resubmitted form reuses it.
func ChargeIdempotencyKey(orderID uuid.UUID, sourceToken string) string {
	sum := sha256.Sum256([]byte(orderID.String() + ":" + sourceToken))
	return hex.EncodeToString(sum[:])
}

// ClientIdempotencyKey scopes a client supplied Idempotency-Key to one order,
// so reusing a key on another order starts a separate charge.
func ClientIdempotencyKey(orderID uuid.UUID, clientKey string) string {
	return orderID.String() + ":" + clientKey
}
