package ratelimit

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per key, for single-replica
// deployments without Redis. Buckets idle for an hour are evicted.
type LocalLimiter struct {
	perMinute int
	burst     int
	buckets   *cache.Cache
}

func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		perMinute: perMinute,
		burst:     burst,
		buckets:   cache.New(time.Hour, 10*time.Minute),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	if l.perMinute <= 0 {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		b := v.(*rate.Limiter)
		l.buckets.SetDefault(key, b)
		return b
	}
	b := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.burst)
	if err := l.buckets.Add(key, b, cache.DefaultExpiration); err != nil {
		// lost the race to another request for the same key
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return b
}
