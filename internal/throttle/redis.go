package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskflow.dev/internal/auth"
)

const (
	defaultMaxFailures = 5
	defaultWindow      = 15 * time.Minute
	defaultPrefix      = "taskflow:login:"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("throttle: store unavailable")

var _ auth.LoginThrottle = (*Limiter)(nil)

// Limiter counts failed logins per identifier in a fixed window. The window starts at
// the first failure; a success clears it.
type Limiter struct {
	redis       redis.Cmdable
	maxFailures int64
	window      time.Duration
	prefix      string
}

// Option configures Limiter.
type Option func(*Limiter)

// WithMaxFailures sets the failure budget per window.
func WithMaxFailures(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxFailures = int64(n)
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithKeyPrefix namespaces the counters.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// New constructs a limiter over client.
func New(client redis.Cmdable, opts ...Option) *Limiter {
	l := &Limiter{
		redis:       client,
		maxFailures: defaultMaxFailures,
		window:      defaultWindow,
		prefix:      defaultPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// identifiers are hashed so raw email addresses never land in Redis keys
func (l *Limiter) key(identifier string) string {
	sum := sha256.Sum256([]byte(auth.NormalizeEmail(identifier)))
	return l.prefix + hex.EncodeToString(sum[:16])
}

// Allow returns auth.ErrTooManyAttempts once the budget for identifier is spent.
func (l *Limiter) Allow(ctx context.Context, identifier string) error {
	count, err := l.redis.Get(ctx, l.key(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxFailures {
		return auth.ErrTooManyAttempts
	}
	return nil
}

// Failure records one failed attempt. The increment and the expiry travel in one
// MULTI/EXEC; EXPIRE NX leaves a running window alone and repairs a counter that
// somehow lost its TTL.
func (l *Limiter) Failure(ctx context.Context, identifier string) error {
	key := l.key(identifier)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	count := incr.Val()
	if count >= l.maxFailures {
		return auth.ErrTooManyAttempts
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
