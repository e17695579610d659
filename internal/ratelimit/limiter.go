// Package ratelimit paces outbound requests to external services with
// token buckets shared across workers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/recallbench/internal/backoff"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the number of requests allowed per second.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int `yaml:"burst_size" json:"burst_size"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
// Pacing is off unless explicitly enabled.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1.0,
		BurstSize:         1,
		Enabled:           false,
	}
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a new token bucket.
func NewBucket(config Config) *Bucket {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1.0
	}
	if config.BurstSize <= 0 {
		config.BurstSize = max(1, int(config.RequestsPerSecond))
	}

	return &Bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request should be allowed and consumes a token if so.
func (b *Bucket) Allow() bool {
	_, ok := b.reserve()
	return ok
}

// reserve consumes a token when one is available, otherwise reports how
// long until one will be.
func (b *Bucket) reserve() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second)), false
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context, sleeper backoff.Sleeper) error {
	if sleeper == nil {
		sleeper = backoff.TimerSleeper
	}
	for {
		wait, ok := b.reserve()
		if ok {
			return nil
		}
		if err := sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime returns how long to wait before a request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Limiter manages one bucket per external service.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	config  Config
	sleeper backoff.Sleeper
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		sleeper: backoff.TimerSleeper,
	}
}

// WithSleeper replaces the sleeper used by Wait.
func (l *Limiter) WithSleeper(s backoff.Sleeper) *Limiter {
	l.sleeper = s
	return l
}

// Enabled reports whether the limiter paces requests.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Allow checks if a request for the given key should be allowed.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.bucket(key).Allow()
}

// Wait blocks until a request for key is allowed. A nil or disabled
// limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.Enabled() {
		return nil
	}
	return l.bucket(key).Wait(ctx, l.sleeper)
}

// WaitTime returns how long to wait before a request would be allowed.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	return l.bucket(key).WaitTime()
}

// Reset resets the rate limit for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = NewBucket(l.config)
		l.buckets[key] = b
	}
	return b
}
