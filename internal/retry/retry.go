// Package retry implements the Retrying Invoker (spec.md §4.2):
// exponential backoff over any async call, gated by a retry predicate,
// with a separate serialized profile for OAuth token refresh.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/data-connectors/source-klaviyo/pkg/config"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	"github.com/data-connectors/source-klaviyo/pkg/logger"
	"go.uber.org/zap"
)

// Profile is an exponential backoff policy: retry up to MaxAttempts
// times, starting at InitialDelay, doubling by Multiplier, capped at
// MaxDelay. ShouldRetry classifies whether a given failure is worth
// retrying at all; when nil, every non-client-fault error retries.
type Profile struct {
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	MaxAttempts     int
	RandomizeFactor float64
	ShouldRetry     func(error) bool
}

// DefaultProfile is the general-purpose HTTP call profile (spec.md
// §4.2): 30s -> 120s, x2, 100 attempts, retry anything except a
// client-fault signal.
func DefaultProfile() Profile {
	return Profile{
		InitialDelay:    30 * time.Second,
		MaxDelay:        120 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     100,
		RandomizeFactor: 0.1,
		ShouldRetry: func(err error) bool {
			return !apperrors.IsClientFault(err)
		},
	}
}

// OAuthProfile is the token-refresh profile (spec.md §4.2): 1s -> 30s,
// x2, 10 attempts, retrying only when the token endpoint signals
// rate_limit_exceeded.
func OAuthProfile() Profile {
	return Profile{
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     10,
		RandomizeFactor: 0.1,
		ShouldRetry:     IsOAuthRateLimited,
	}
}

// DefaultProfileFromConfig applies cfg's non-zero overrides onto
// DefaultProfile; zero fields of cfg keep DefaultProfile's values
// (spec.md §4.2).
func DefaultProfileFromConfig(cfg config.ReliabilityConfig) Profile {
	p := DefaultProfile()
	if cfg.DefaultInitialDelay > 0 {
		p.InitialDelay = cfg.DefaultInitialDelay
	}
	if cfg.DefaultMaxDelay > 0 {
		p.MaxDelay = cfg.DefaultMaxDelay
	}
	if cfg.DefaultMultiplier > 0 {
		p.Multiplier = cfg.DefaultMultiplier
	}
	if cfg.DefaultMaxAttempts > 0 {
		p.MaxAttempts = cfg.DefaultMaxAttempts
	}
	return p
}

// OAuthProfileFromConfig applies cfg's non-zero overrides onto
// OAuthProfile.
func OAuthProfileFromConfig(cfg config.ReliabilityConfig) Profile {
	p := OAuthProfile()
	if cfg.OAuthInitialDelay > 0 {
		p.InitialDelay = cfg.OAuthInitialDelay
	}
	if cfg.OAuthMaxDelay > 0 {
		p.MaxDelay = cfg.OAuthMaxDelay
	}
	if cfg.OAuthMultiplier > 0 {
		p.Multiplier = cfg.OAuthMultiplier
	}
	if cfg.OAuthMaxAttempts > 0 {
		p.MaxAttempts = cfg.OAuthMaxAttempts
	}
	return p
}

// OAuthRateLimitedError is returned by an OAuth token endpoint call
// that failed because of rate_limit_exceeded; any other failure from
// that call should be wrapped in something else so OAuthProfile does
// not retry it.
type OAuthRateLimitedError struct{ Cause error }

func (e *OAuthRateLimitedError) Error() string { return "oauth: rate_limit_exceeded" }
func (e *OAuthRateLimitedError) Unwrap() error { return e.Cause }

// IsOAuthRateLimited reports whether err is (or wraps) an
// OAuthRateLimitedError.
func IsOAuthRateLimited(err error) bool {
	for err != nil {
		if _, ok := err.(*OAuthRateLimitedError); ok {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (p Profile) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.RandomizeFactor > 0 {
		delta := d * p.RandomizeFactor
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// Invoker runs calls through a Profile, optionally serializing a named
// class of calls (used for OAuth refresh, spec.md §4.2 "concurrency 1").
type Invoker struct {
	profile    Profile
	serialized bool
	mu         sync.Mutex
}

// New constructs an Invoker over profile. When serialized is true, all
// calls through this Invoker run one at a time process-wide.
func New(profile Profile, serialized bool) *Invoker {
	return &Invoker{profile: profile, serialized: serialized}
}

// WithRetry runs fn, retrying per the Invoker's profile until it
// succeeds, the predicate rejects the error, attempts are exhausted,
// or ctx is cancelled.
func (inv *Invoker) WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	if inv.serialized {
		inv.mu.Lock()
		defer inv.mu.Unlock()
	}

	shouldRetry := inv.profile.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return !apperrors.IsClientFault(err) }
	}

	var lastErr error
	for attempt := 0; attempt < inv.profile.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeCancelled, "retry: cancelled before attempt")
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == inv.profile.MaxAttempts-1 {
			break
		}

		d := inv.profile.delay(attempt)
		logger.WithContext(ctx).Warn("retry: attempt failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", d),
			zap.Error(err),
		)

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeCancelled, "retry: cancelled during backoff")
		}
	}

	return apperrors.Wrap(lastErr, apperrors.ErrorTypeTransient, "retry: attempts exhausted")
}
