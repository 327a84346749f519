// Package ratelimit implements the Rate Limiter Registry (spec.md
// §4.1): a per-endpoint-key reservoir refilled on an absolute 60s
// cadence, layered with a minimum-inter-arrival pacer and a bounded
// concurrency gate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	"github.com/data-connectors/source-klaviyo/pkg/metrics"
)

// Budget describes one endpoint key's {burst, steady, concurrency}
// triple (spec.md §3).
type Budget struct {
	// Burst is the requests/second ceiling used to derive the minimum
	// inter-arrival spacing: 1000/burst * 1.25 ms.
	Burst int
	// Steady is the requests/60s reservoir size, refilled to this value
	// every 60 seconds on an absolute (not sliding) cadence.
	Steady int
	// Concurrency bounds in-flight calls against this endpoint key.
	// Defaults to 20 when zero.
	Concurrency int
}

// Registry holds one limiter per endpoint key, created lazily on first
// use from a caller-supplied Budget table.
type Registry struct {
	mu       sync.Mutex
	budgets  map[string]Budget
	limiters map[string]*endpointLimiter
}

// NewRegistry constructs a Registry over a static endpoint table. Keys
// absent from budgets are an implementer error per spec.md §4.1 and
// Schedule panics rather than silently falling back to some default.
func NewRegistry(budgets map[string]Budget) *Registry {
	return &Registry{
		budgets:  budgets,
		limiters: make(map[string]*endpointLimiter),
	}
}

// endpointLimiter is the per-key reservoir + pacer + concurrency gate.
type endpointLimiter struct {
	mu        sync.Mutex
	reservoir int
	refillAt  time.Time
	steady    int
	// pacer is a burst-1 golang.org/x/time/rate.Limiter whose refill rate
	// equals 1/minInterArrival; Wait() therefore blocks exactly long
	// enough to enforce the minimum spacing between dispatches (spec.md
	// §4.1), independent of the 60s absolute reservoir above, which
	// rate.Limiter's own token bucket cannot model on its own.
	pacer *rate.Limiter
	sem   chan struct{}
}

func newEndpointLimiter(b Budget) *endpointLimiter {
	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	minInterArrival := time.Duration(float64(time.Second) / float64(b.Burst) * 1.25)
	pacerRate := rate.Every(minInterArrival)
	return &endpointLimiter{
		reservoir: b.Steady,
		refillAt:  time.Now().Add(60 * time.Second),
		steady:    b.Steady,
		pacer:     rate.NewLimiter(pacerRate, 1),
		sem:       make(chan struct{}, concurrency),
	}
}

func (l *endpointLimiter) acquireReservoir(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if now.After(l.refillAt) {
			l.reservoir = l.steady
			l.refillAt = now.Add(60 * time.Second)
		}
		if l.reservoir > 0 {
			l.reservoir--
			l.mu.Unlock()
			return nil
		}
		sleepFor := l.refillAt.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(sleepFor)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (l *endpointLimiter) acquireSlot(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *endpointLimiter) release() {
	select {
	case <-l.sem:
	default:
	}
}

func (r *Registry) limiterFor(key string) *endpointLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}
	budget, ok := r.budgets[key]
	if !ok {
		panic("ratelimit: unknown endpoint key " + key)
	}
	l := newEndpointLimiter(budget)
	r.limiters[key] = l
	return l
}

// Schedule runs fn once the endpoint key's pacing, reservoir and
// concurrency constraints allow it, and returns fn's result. Multiple
// callers may schedule against the same key concurrently; FIFO
// ordering within a key is a byproduct of the underlying mutex/channel
// and is not otherwise guaranteed (spec.md §4.1 "fairness... is not
// required").
func Schedule[T any](ctx context.Context, r *Registry, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	l := r.limiterFor(key)

	if err := l.acquireReservoir(ctx); err != nil {
		return zero, apperrors.Wrap(err, apperrors.ErrorTypeCancelled, "rate limiter: reservoir wait cancelled")
	}
	if reservoir, _, ok := r.Stats(key); ok {
		metrics.RateLimiterReservoir.WithLabelValues(key).Set(float64(reservoir))
	}
	if err := l.pacer.Wait(ctx); err != nil {
		return zero, apperrors.Wrap(err, apperrors.ErrorTypeCancelled, "rate limiter: pacing wait cancelled")
	}
	if err := l.acquireSlot(ctx); err != nil {
		return zero, apperrors.Wrap(err, apperrors.ErrorTypeCancelled, "rate limiter: concurrency wait cancelled")
	}
	defer l.release()

	return fn(ctx)
}

// Stats reports the current reservoir level for an already-created
// limiter; Schedule uses it to publish the pkg/metrics reservoir gauge.
func (r *Registry) Stats(key string) (reservoir, steady int, ok bool) {
	r.mu.Lock()
	l, exists := r.limiters[key]
	r.mu.Unlock()
	if !exists {
		return 0, 0, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservoir, l.steady, true
}
