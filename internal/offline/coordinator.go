package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

// DefaultTTL is how long a fetched value is served without refetching.
const DefaultTTL = 5 * time.Minute

// Connectivity is the reachability signal consulted before network I/O.
type Connectivity interface {
	Online() bool
	Probe(ctx context.Context) bool
}

// Coordinator serves reads from the backend or the cache depending on
// connectivity and refuses writes while offline.
type Coordinator struct {
	cache   Cache
	net     Connectivity
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	group singleflight.Group

	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	gen   uint64
	dirty bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator builds a coordinator over cache and the connectivity signal.
func NewCoordinator(cache Cache, net Connectivity, opts ...Option) *Coordinator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	c := &Coordinator{
		cache:  cache,
		net:    net,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
		keys:   make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the last known reachability.
func (c *Coordinator) Online() bool {
	return c.net.Online()
}

// TTL returns the freshness window.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// ============================================================================
// READ
// ============================================================================

type readOptions struct {
	refresh bool
}

// ReadOption tunes a single Read.
type ReadOption func(*readOptions)

// WithRefresh forces a refetch when online even if the cache is fresh.
func WithRefresh(force bool) ReadOption {
	return func(o *readOptions) { o.refresh = force }
}

// Read returns the value for key. Offline it serves the cached value, or the
// zero value, without error. Online it serves a fresh cache hit or fetches,
// falling back to any cached value when the fetch fails.
func Read[T any](ctx context.Context, c *Coordinator, key string, fetch func(context.Context) (T, error), opts ...ReadOption) (T, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	cached, hasCached := c.load(ctx, key)

	if !c.net.Online() {
		c.metrics.read(key, "offline")
		if !hasCached {
			return zero, nil
		}
		v, err := decodeCached[T](c, key, cached)
		if err != nil {
			return zero, nil
		}
		return v, nil
	}

	if hasCached && !o.refresh && !c.isDirty(key) && cached.Fresh(c.now(), c.ttl) {
		if v, err := decodeCached[T](c, key, cached); err == nil {
			c.metrics.read(key, "hit")
			return v, nil
		}
	}

	c.metrics.read(key, "miss")
	v, err := c.fetch(ctx, key, func(fctx context.Context) (any, error) {
		return fetch(fctx)
	})
	if err != nil {
		if hasCached {
			if fallback, derr := decodeCached[T](c, key, cached); derr == nil {
				c.metrics.read(key, "fallback")
				c.logger.WarnContext(ctx, "offline: fetch failed, serving cached value",
					slog.String("key", key), slog.Any("error", err))
				return fallback, nil
			}
		}
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("offline: %s: shared fetch returned %T", key, v)
	}
	return typed, nil
}

// fetch collapses concurrent fetches of the same key and generation. The
// fetch outlives a departing caller; its result is stored only when no
// invalidation happened since it started.
func (c *Coordinator) fetch(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	gen := c.generation(key)
	flight := fmt.Sprintf("%s#%d", key, gen)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (any, error) {
		v, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.store(detached, key, gen, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Coordinator) load(ctx context.Context, key string) (CacheEntry, bool) {
	entry, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "offline: cache read failed", slog.String("key", key), slog.Any("error", err))
		return CacheEntry{}, false
	}
	return entry, ok
}

func (c *Coordinator) store(ctx context.Context, key string, gen uint64, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.WarnContext(ctx, "offline: encode for cache failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(key)
	if st.gen != gen {
		return
	}
	if err := c.cache.Set(ctx, key, CacheEntry{Value: raw, LastFetch: c.now()}); err != nil {
		c.logger.WarnContext(ctx, "offline: cache write failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	st.dirty = false
}

func decodeCached[T any](c *Coordinator, key string, entry CacheEntry) (T, error) {
	var v T
	if len(entry.Value) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		c.logger.Warn("offline: cached value unreadable", slog.String("key", key), slog.Any("error", err))
		return v, fmt.Errorf("offline: decode %s: %w", key, err)
	}
	return v, nil
}

// ============================================================================
// WRITE
// ============================================================================

// WriteOp is one backend mutation and the cache keys it can affect.
type WriteOp struct {
	Name        string
	Invalidates []string
	Run         func(ctx context.Context) error
}

// Write re-probes reachability, runs op and invalidates its keys. While
// offline it returns *loan.OfflineWriteError without running anything. Errors
// from op are returned unchanged.
func (c *Coordinator) Write(ctx context.Context, op WriteOp) error {
	if op.Run == nil {
		return errors.New("offline: write op has no body")
	}
	if !c.net.Probe(ctx) {
		c.metrics.writeRefused()
		c.logger.InfoContext(ctx, "offline: write refused", slog.String("op", op.Name))
		return &loan.OfflineWriteError{Op: op.Name}
	}
	if err := op.Run(ctx); err != nil {
		return err
	}
	c.Invalidate(ctx, op.Invalidates...)
	return nil
}

// Invalidate clears the stored value and lastFetch of every key. A read
// already in flight for a key will not repopulate it. A key whose store
// could not be cleared is refetched on its next online read.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.mu.Lock()
		st := c.state(key)
		st.gen++
		err := c.cache.Invalidate(ctx, key)
		st.dirty = err != nil
		c.mu.Unlock()
		if err != nil {
			c.logger.WarnContext(ctx, "offline: invalidate failed, key marked stale",
				slog.String("key", key), slog.Any("error", err))
			continue
		}
		c.metrics.invalidated(key)
	}
}

func (c *Coordinator) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(key).gen
}

func (c *Coordinator) isDirty(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(key).dirty
}

// state must be called with c.mu held.
func (c *Coordinator) state(key string) *keyState {
	st, ok := c.keys[key]
	if !ok {
		st = &keyState{}
		c.keys[key] = st
	}
	return st
}
