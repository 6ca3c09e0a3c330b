// Package ratelimit enforces per-endpoint request budgets using a shared
// ulule/limiter/v3 store: Redis-backed in production, so every replica
// shares one counter, or an in-process store when no Redis client is
// given (tests, single-instance dev mode). A store error at request time
// lets the request through.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/auth"
	"github.com/ovmeet/control-plane/internal/config"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter holds the per-endpoint-class limiter instances, all backed by
// the same store so a single outage mode (Redis down) degrades every
// class identically.
type Limiter struct {
	global       *limiter.Limiter
	public       *limiter.Limiter
	rooms        *limiter.Limiter
	participants *limiter.Limiter
}

// New builds a Limiter from cfg's formatted rates (e.g. "100-M"),
// sharing rdb's connection for its Redis store. rdb may be nil, in
// which case an in-memory store is used.
func New(cfg *config.Config, rdb *redis.Client) (*Limiter, error) {
	store, err := newStore(rdb)
	if err != nil {
		return nil, err
	}

	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid global rate limit: %w", err)
	}
	publicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid public rate limit: %w", err)
	}
	roomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid rooms rate limit: %w", err)
	}
	participantsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid participant rate limit: %w", err)
	}

	return &Limiter{
		global:       limiter.New(store, globalRate),
		public:       limiter.New(store, publicRate),
		rooms:        limiter.New(store, roomsRate),
		participants: limiter.New(store, participantsRate),
	}, nil
}

func newStore(rdb *redis.Client) (limiter.Store, error) {
	if rdb == nil {
		return memory.NewStore(), nil
	}
	s, err := sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ov_meet:limiter:"})
	if err != nil {
		return nil, fmt.Errorf("create redis rate limit store: %w", err)
	}
	return s, nil
}

// GlobalMiddleware enforces a generous default baseline: a generous per-user
// budget for authenticated callers, a tighter per-IP budget otherwise.
func (l *Limiter) GlobalMiddleware() gin.HandlerFunc {
	return l.middleware(l.global, l.public, "global")
}

// MiddlewareForEndpoint enforces the named endpoint class's budget on
// top of GlobalMiddleware's baseline.
func (l *Limiter) MiddlewareForEndpoint(class string) gin.HandlerFunc {
	switch class {
	case "rooms":
		return l.middleware(l.rooms, l.rooms, "rooms")
	case "participants":
		return l.middleware(l.participants, l.participants, "participants")
	default:
		return l.middleware(l.global, l.public, class)
	}
}

func (l *Limiter) middleware(authenticated, anonymous *limiter.Limiter, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst := anonymous
		key := label + ":" + c.ClientIP()
		if claims, ok := c.Get("claims"); ok {
			if cc, ok := claims.(*auth.CustomClaims); ok {
				inst = authenticated
				key = label + ":" + cc.Subject
			}
		}

		ctx := c.Request.Context()
		ctxInfo, err := inst.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(ctxInfo.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctxInfo.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(ctxInfo.Reset, 10))

		if ctxInfo.Reached {
			metrics.RateLimitExceeded.WithLabelValues(label).Inc()
			c.Header("Retry-After", strconv.FormatInt(ctxInfo.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "too many requests",
				"retryAfter": ctxInfo.Reset,
			})
			return
		}
		c.Next()
	}
}
