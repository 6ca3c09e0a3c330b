// Package store provides the Coordination Store Client: a single
// circuit-broken Redis facade shared by the lock, scheduler, bus, and
// nameres packages, so that connection pooling and breaker state are
// centralized rather than duplicated per-package.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Client wraps a go-redis client with a circuit breaker guarding every
// operation against a wedged or unreachable Redis.
type Client struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
}

// Options configures a new Client.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// New dials Redis and verifies connectivity before returning.
func New(opts Options) (*Client, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 2
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "failed to connect to redis")
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(metrics.CircuitBreakerStateValue(stateName(to)))
			slog.Info("redis circuit breaker state change", "from", stateName(from), "to", stateName(to))
		},
	}

	slog.Info("connected to redis", "addr", opts.Addr)
	return &Client{rdb: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// NewFromClient wraps an already-constructed *redis.Client with a
// default-settings breaker, without New's connectivity check.
func NewFromClient(rdb *redis.Client) *Client {
	st := gobreaker.Settings{Name: "redis"}
	return &Client{rdb: rdb, cb: gobreaker.NewCircuitBreaker(st)}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Raw returns the underlying go-redis client for operations that the
// facade does not wrap, e.g. the Redis store of internal/ratelimit.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := c.cb.Execute(fn)
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
			return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "redis circuit breaker open")
		}
		metrics.RedisOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, fmt.Sprintf("redis %s failed", op))
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, "success").Inc()
	return res, nil
}

// Eval runs a Lua script atomically, returning its raw result.
func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	return c.execute(ctx, "eval", func() (any, error) {
		return script.Run(ctx, c.rdb, keys, args...).Result()
	})
}

// Get returns a string value, redis.Nil mapped to apierror.NotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	res, err := c.execute(ctx, "get", func() (any, error) {
		return c.rdb.Get(ctx, key).Result()
	})
	if err != nil {
		if isNotFound(err) {
			return "", apierror.New(apierror.NotFound, "key not found")
		}
		return "", err
	}
	return res.(string), nil
}

func isNotFound(err error) bool {
	apiErr := apierror.KindOf(err)
	return apiErr == apierror.DependencyUnavailable && redisNilCause(err)
}

func redisNilCause(err error) bool {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err == redis.Nil
		}
		if err == redis.Nil {
			return true
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}

// SetNX sets key to value with ttl only if it does not already exist.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.execute(ctx, "setnx", func() (any, error) {
		return c.rdb.SetNX(ctx, key, value, ttl).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Set sets key unconditionally with ttl (ttl of 0 means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.execute(ctx, "set", func() (any, error) {
		return nil, c.rdb.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	_, err := c.execute(ctx, "del", func() (any, error) {
		return nil, c.rdb.Del(ctx, keys...).Err()
	})
	return err
}

// SAdd adds a member to a set.
func (c *Client) SAdd(ctx context.Context, key string, member string) error {
	_, err := c.execute(ctx, "sadd", func() (any, error) {
		return nil, c.rdb.SAdd(ctx, key, member).Err()
	})
	return err
}

// SRem removes a member from a set.
func (c *Client) SRem(ctx context.Context, key string, member string) error {
	_, err := c.execute(ctx, "srem", func() (any, error) {
		return nil, c.rdb.SRem(ctx, key, member).Err()
	})
	return err
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	res, err := c.execute(ctx, "smembers", func() (any, error) {
		return c.rdb.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// ZAdd adds a member with score to a sorted set.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := c.execute(ctx, "zadd", func() (any, error) {
		return nil, c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
	return err
}

// ZRem removes a member from a sorted set.
func (c *Client) ZRem(ctx context.Context, key string, member string) error {
	_, err := c.execute(ctx, "zrem", func() (any, error) {
		return nil, c.rdb.ZRem(ctx, key, member).Err()
	})
	return err
}

// ZScore returns the score of member in a sorted set.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, error) {
	res, err := c.execute(ctx, "zscore", func() (any, error) {
		return c.rdb.ZScore(ctx, key, member).Result()
	})
	if err != nil {
		if isNotFound(err) {
			return 0, apierror.New(apierror.NotFound, "member not found")
		}
		return 0, err
	}
	return res.(float64), nil
}

// ZRangeByScore returns members scored within [min, max].
func (c *Client) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	res, err := c.execute(ctx, "zrangebyscore", func() (any, error) {
		return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// ZCard returns the cardinality of a sorted set.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	res, err := c.execute(ctx, "zcard", func() (any, error) {
		return c.rdb.ZCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Publish broadcasts data on channel.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	_, err := c.execute(ctx, "publish", func() (any, error) {
		return nil, c.rdb.Publish(ctx, channel, data).Err()
	})
	return err
}

// Subscribe returns a raw go-redis PubSub for channel. Subscriptions are
// long-lived and are not routed through the circuit breaker: a failed
// initial subscribe surfaces via the returned PubSub's Receive error path,
// and go-redis itself handles reconnects transparently.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// Ping verifies connectivity, used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, "ping", func() (any, error) {
		return nil, c.rdb.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
