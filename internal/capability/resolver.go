// Package capability resolves and caches admin capabilities from a
// role-to-capability policy.
package capability

import (
	"sync"
	"time"

	"github.com/pitabwire/onboard/model"
)

// DefaultMaxEntries bounds the cache when no limit is configured.
const DefaultMaxEntries = 10000

// CacheObserver is notified of cache hits and misses.
type CacheObserver interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache keyed
// by subject and role set.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	observer   CacheObserver
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxEntries bounds the number of cached subjects. Non-positive values
// keep the default.
func WithMaxEntries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxEntries = n
		}
	}
}

// WithCacheObserver reports hits and misses to o.
func WithCacheObserver(o CacheObserver) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		evaluator:  evaluator,
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Roles are part of the key so a token carrying new roles is never served a
// stale set.
func cacheKey(rctx *model.RequestContext) string {
	key := rctx.SubjectID + "|"
	for i, role := range rctx.Roles {
		if i > 0 {
			key += ","
		}
		key += role
	}
	return key
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)
	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		if r.observer != nil {
			r.observer.RecordCapabilityCacheHit()
		}
		return entry.caps, nil
	}
	if r.observer != nil {
		r.observer.RecordCapabilityCacheMiss()
	}

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxEntries {
		r.evictLocked(now)
	}
	r.cache[key] = cacheEntry{caps: caps, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// evictLocked drops expired entries, and everything if that frees nothing.
func (r *Resolver) evictLocked(now time.Time) {
	for key, entry := range r.cache {
		if !now.Before(entry.expires) {
			delete(r.cache, key)
		}
	}
	if len(r.cache) >= r.maxEntries {
		clear(r.cache)
	}
}

// Invalidate clears cached capabilities for the given subject.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + "|"
	r.mu.Lock()
	for key := range r.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
