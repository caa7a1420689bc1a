// Package ratelimit provides the in-process send-eligibility oracle consulted
// by the executor before each channel send.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postpilot/internal/automation"
)

// Config controls the per-channel limiter defaults.
type Config struct {
	// PerHour is the default automated-send budget per (channel, content type).
	// Channels may override via their RatePerHour.
	PerHour int
	// Burst allows short spikes above the steady rate.
	Burst int
}

// Limiter implements automation.RateLimiter with one token bucket per
// (content type, channel) pair. The engine treats denial as expected behavior,
// not an error.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	perHour int
	lim     *rate.Limiter
}

func New(cfg Config) *Limiter {
	if cfg.PerHour <= 0 {
		cfg.PerHour = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{cfg: cfg, buckets: map[string]*bucket{}}
}

func (l *Limiter) Allow(contentType automation.ContentType, ch automation.Channel) automation.Decision {
	perHour := ch.RatePerHour
	if perHour <= 0 {
		perHour = l.cfg.PerHour
	}
	key := bucketKey(contentType, ch.ID)

	l.mu.Lock()
	b, ok := l.buckets[key]
	// Recreate the bucket when the channel's budget changed.
	if !ok || b.perHour != perHour {
		b = &bucket{perHour: perHour, lim: rate.NewLimiter(perHourLimit(perHour), l.cfg.Burst)}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	// Reserve instead of Allow so a denial can report how long to wait.
	r := b.lim.Reserve()
	if !r.OK() {
		return automation.Decision{Allowed: false, Reason: "rate budget unavailable"}
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return automation.Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("hourly budget exhausted for %s", contentType),
			RetryAfter: delay,
		}
	}
	return automation.Decision{Allowed: true}
}

func bucketKey(contentType automation.ContentType, channelID string) string {
	return string(contentType) + "|" + channelID
}

func perHourLimit(perHour int) rate.Limit {
	return rate.Limit(float64(perHour) / time.Hour.Seconds())
}
