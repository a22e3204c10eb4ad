package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards the context store's Redis client with a breaker.
// Only the commands the hub issues are wrapped.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper wraps client with the Redis breaker configuration.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", RedisConfig(), logger),
		logger: logger,
	}
}

// IsOpen reports whether the breaker currently rejects requests.
func (rw *RedisWrapper) IsOpen() bool {
	return rw.cb.State() == StateOpen
}

// Client exposes the underlying client for health checks.
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// execute runs a command through the breaker. redis.Nil is a miss, not
// a backend failure, and must not trip the breaker.
func (rw *RedisWrapper) execute(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if cmdErr := fn(); cmdErr != nil && !errors.Is(cmdErr, redis.Nil) {
			return cmdErr
		}
		return nil
	})
	recordRequest("redis", err == nil)
	return err
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, ttl)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	var result *redis.StringCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.XAdd(ctx, args)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd {
	var result *redis.XMessageSliceCmd
	if err := rw.execute(ctx, func() error {
		result = rw.client.XRevRangeN(ctx, stream, start, stop, count)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewXMessageSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}
