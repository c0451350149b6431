// Package ratelimit implements a per-identity sliding-window rate limiter.
//
// The limiter admits at most Limit requests from one identity within any
// trailing Window interval, evaluated by pruning stale timestamps on every
// check. Bursts up to Limit are allowed at window start; this is an
// intentional precision/simplicity trade-off, not a token bucket.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result reports the outcome of a single admission check.
type Result struct {
	// Allowed indicates whether the request was admitted.
	Allowed bool

	// Limit is the configured per-window request limit.
	Limit int

	// Remaining is how many requests remain in the current window.
	Remaining int

	// Reset is when the oldest recorded request leaves the window.
	Reset time.Time

	// RetryAfter suggests how long to wait before retrying (rejections only).
	RetryAfter time.Duration
}

// Limiter tracks request timestamps per identity. Windows for distinct
// identities never influence each other; the per-identity state is held in a
// bounded LRU so the store cannot grow without bound under long-running
// operation.
type Limiter struct {
	limit   int
	window  time.Duration
	windows *lru.Cache[string, *window]
}

// window is the recorded timestamps for one identity.
// Its mutex serializes concurrent requests from the same identity without
// blocking checks for other identities.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// New creates a limiter admitting limit requests per window.
// maxIdentities bounds how many identities are tracked at once; the least
// recently seen identity is evicted first.
func New(limit int, windowDur time.Duration, maxIdentities int) *Limiter {
	if maxIdentities <= 0 {
		maxIdentities = 10000
	}
	cache, err := lru.New[string, *window](maxIdentities)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(err)
	}

	return &Limiter{
		limit:   limit,
		window:  windowDur,
		windows: cache,
	}
}

// Allow checks whether a request from identity may proceed at instant now.
// Stale timestamps are pruned first; if the remaining count has reached the
// limit the request is rejected without being recorded, otherwise now is
// recorded and the request admitted. Admitted requests consume a slot
// regardless of how they fare downstream.
func (l *Limiter) Allow(identity string, now time.Time) Result {
	w := l.get(identity)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, l.window)

	if len(w.times) >= l.limit {
		reset := now.Add(l.window)
		if len(w.times) > 0 {
			reset = w.times[0].Add(l.window)
		}
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	w.times = append(w.times, now)

	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(w.times),
		Reset:     w.times[0].Add(l.window),
	}
}

// Tracked returns how many identities currently have a window in the store.
func (l *Limiter) Tracked() int {
	return l.windows.Len()
}

// get returns the window for identity, creating it on first use.
func (l *Limiter) get(identity string) *window {
	if w, ok := l.windows.Get(identity); ok {
		return w
	}

	// Two concurrent first requests may race here; PeekOrAdd resolves the
	// race to a single window.
	fresh := &window{}
	if prev, ok, _ := l.windows.PeekOrAdd(identity, fresh); ok {
		return prev
	}
	return fresh
}

// prune drops timestamps that have aged out of the window. Entries exactly
// one window old are dropped too: the window keeps only timestamps strictly
// within it.
func (w *window) prune(now time.Time, dur time.Duration) {
	cutoff := now.Add(-dur)

	keep := 0
	for _, t := range w.times {
		if t.After(cutoff) {
			break
		}
		keep++
	}

	if keep > 0 {
		w.times = append(w.times[:0], w.times[keep:]...)
	}
}
