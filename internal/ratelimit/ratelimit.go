// Package ratelimit is the per-user burst limiter in front of the chat
// endpoints. It is independent of the daily quota.
package ratelimit

import "context"

type Limiter interface {
	// Allow reports whether one more request for key fits right now.
	Allow(ctx context.Context, key string) bool
}
