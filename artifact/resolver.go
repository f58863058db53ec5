// Package artifact memoizes derived computations for a single analysis run. equal requests
// issued concurrently share one computation, resolved values are cached, and failures are
// delivered to every waiter without being cached.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Kind names a family of derived artifacts, e.g. "network-analysis".
type Kind string

// ErrCircularDependency is matched by every CircularDependencyError.
var ErrCircularDependency = errors.New("circular artifact dependency")

// CircularDependencyError reports an artifact kind that transitively requested itself.
type CircularDependencyError struct {
	Chain []Kind
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, k := range e.Chain {
		parts[i] = string(k)
	}
	return fmt.Sprintf("circular artifact dependency: %s", strings.Join(parts, " -> "))
}

func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// Stats counts resolver activity since creation or the last Reset.
type Stats struct {
	Hits         int64 // served from the cache
	Misses       int64 // not cached when requested
	Computations int64 // compute functions actually run
	Failures     int64 // computations that returned an error
	Shared       int64 // waiters that joined an in-flight computation
}

// Resolver is the per-run artifact cache. the zero value is not usable, call NewResolver.
type Resolver struct {
	mu     sync.RWMutex
	values map[string]any
	group  singleflight.Group
	logger *slog.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	failures     atomic.Int64
	shared       atomic.Int64
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		values: make(map[string]any),
		logger: logger,
	}
}

type chainKey struct{}

// chainFrom returns the kinds currently being resolved on this call path
func chainFrom(ctx context.Context) []Kind {
	chain, _ := ctx.Value(chainKey{}).([]Kind)
	return chain
}

func withKind(ctx context.Context, kind Kind) context.Context {
	chain := chainFrom(ctx)
	next := make([]Kind, len(chain)+1)
	copy(next, chain)
	next[len(chain)] = kind
	return context.WithValue(ctx, chainKey{}, next)
}

// Resolve returns the artifact of kind for key, computing it at most once across concurrent
// callers. compute receives a context that carries the resolution chain, so artifacts it
// resolves in turn are checked for cycles. a caller whose ctx ends stops waiting and gets the
// context error; the shared computation keeps running for the other waiters.
func Resolve[T any](ctx context.Context, r *Resolver, kind Kind, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	chain := chainFrom(ctx)
	for i, k := range chain {
		if k == kind {
			cycle := append(append([]Kind{}, chain[i:]...), kind)
			return zero, &CircularDependencyError{Chain: cycle}
		}
	}

	cacheKey := string(kind) + "|" + key
	if v, ok := r.lookup(cacheKey); ok {
		r.hits.Add(1)
		return v.(T), nil
	}
	r.misses.Add(1)

	inner := withKind(context.WithoutCancel(ctx), kind)
	ch := r.group.DoChan(cacheKey, func() (any, error) {
		// another flight may have stored the value between our lookup and this call
		if v, ok := r.lookup(cacheKey); ok {
			return v, nil
		}

		r.computations.Add(1)
		started := time.Now()
		v, err := compute(inner)
		if err != nil {
			r.failures.Add(1)
			r.logger.Debug("artifact failed", "kind", kind, "key", key, "elapsed", time.Since(started), "error", err)
			return nil, err
		}

		r.mu.Lock()
		r.values[cacheKey] = v
		r.mu.Unlock()
		r.logger.Debug("artifact computed", "kind", kind, "key", key, "elapsed", time.Since(started))
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.shared.Add(1)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, fmt.Errorf("waiting for %s: %w", kind, ctx.Err())
	}
}

func (r *Resolver) lookup(cacheKey string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[cacheKey]
	return v, ok
}

// Len returns the number of cached artifacts.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:         r.hits.Load(),
		Misses:       r.misses.Load(),
		Computations: r.computations.Load(),
		Failures:     r.failures.Load(),
		Shared:       r.shared.Load(),
	}
}

// Reset drops every cached artifact and zeroes the counters. in-flight computations still
// complete and store their value.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.values = make(map[string]any)
	r.mu.Unlock()
	r.hits.Store(0)
	r.misses.Store(0)
	r.computations.Store(0)
	r.failures.Store(0)
	r.shared.Store(0)
}
