package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tally/internal/config"
)

const keyUploadClient = "recon:ratelimit:upload:%s"

type Params struct {
	fx.In

	Cfg     config.Config
	Runtime *config.RuntimeHolder
	Log     *zap.Logger
}

// UploadLimiter throttles statement uploads per client address. Limits
// come from the runtime config on every call, so an operator can loosen
// them without a restart.
type UploadLimiter struct {
	bucket  *TokenBucket
	runtime *config.RuntimeHolder
	log     *zap.Logger
}

// NewUploadLimiter returns nil without error when redis is not
// configured; callers treat a nil limiter as always allowing.
func NewUploadLimiter(p Params) (*UploadLimiter, error) {
	if !p.Cfg.RedisEnabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})

	return &UploadLimiter{
		bucket:  NewTokenBucket(client),
		runtime: p.Runtime,
		log:     p.Log.Named("ratelimit.upload"),
	}, nil
}

func (l *UploadLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether the client may upload now. Limiter failures
// allow the request: an upload is never refused because redis is down.
func (l *UploadLimiter) Allow(ctx context.Context, client string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}

	limits := l.runtime.Current().RateLimit
	if limits.WindowSeconds <= 0 || limits.MaxRequests <= 0 {
		return Result{Allowed: true}
	}
	rate := float64(limits.MaxRequests) / (time.Duration(limits.WindowSeconds) * time.Second).Seconds()

	key := fmt.Sprintf(keyUploadClient, strings.TrimSpace(client))
	res, err := l.bucket.Allow(ctx, key, rate, limits.MaxRequests)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing upload", zap.Error(err))
		return Result{Allowed: true}
	}
	return res
}
