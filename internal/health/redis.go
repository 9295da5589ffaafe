package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the Redis instance holding run locks.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck implements Checker.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
