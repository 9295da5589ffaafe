// Package runlock keeps two report runs for the same date from overlapping.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRunInProgress is returned when another holder owns the lock.
var ErrRunInProgress = errors.New("report run already in progress")

// KeyPrefix namespaces lock keys.
const KeyPrefix = "auditreport:"

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks that expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker returns a RedisLocker using client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// NewRedisClient connects to the Redis server at url and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire takes the lock for name or returns ErrRunInProgress.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	key := KeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// NoopLocker grants every lock. It is used when Redis is not configured.
type NoopLocker struct{}

// Acquire implements Locker.
func (NoopLocker) Acquire(context.Context, string, time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }
