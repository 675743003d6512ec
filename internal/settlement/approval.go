package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ApprovalGuard is the fast-path rejection for reused payment-network
// approval numbers. It is advisory only; the history store's uniqueness
// constraint is the authoritative check.
type ApprovalGuard interface {
	// Reserve claims the approval number. It returns false when the number
	// was already claimed by an earlier request.
	Reserve(ctx context.Context, approvalNumber string) (bool, error)
}

// RedisApprovalGuard reserves approval numbers with SETNX so concurrent
// requests across instances are rejected before touching the ledger.
type RedisApprovalGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisApprovalGuard wires a guard over the given client. Reservations
// expire after ttl; the durable history row carries the guarantee past that.
func NewRedisApprovalGuard(client *redis.Client, ttl time.Duration) *RedisApprovalGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisApprovalGuard{client: client, ttl: ttl}
}

func (g *RedisApprovalGuard) Reserve(ctx context.Context, approvalNumber string) (bool, error) {
	key := "settlement:approval:" + approvalNumber
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve approval number: %w", err)
	}
	return ok, nil
}

// NoopGuard always admits; used when no Redis is configured. The database
// constraint still rejects duplicates, just later in the pipeline.
type NoopGuard struct{}

func (NoopGuard) Reserve(context.Context, string) (bool, error) { return true, nil }
