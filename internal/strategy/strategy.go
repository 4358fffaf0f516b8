// Package strategy implements the five caching strategies the worker
// applies per resource class. Each strategy is a function over a request
// and a partition name; partitions are opened on demand so no state is
// carried between invocations.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mufcstore/matchday/internal/cachestore"
)

// Fetcher performs the network leg of a strategy and returns the response
// as a snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (cachestore.Entry, error)
}

// Background registers a side effect whose lifetime must extend past the
// response (the revalidation write of stale-while-revalidate). The runtime
// may abandon registered work on teardown; the next equivalent request
// simply misses cache and refetches.
type Background interface {
	Go(fn func())
}

// Engine applies caching strategies against the partition store.
type Engine struct {
	store  *cachestore.Store
	fetch  Fetcher
	bg     Background
	logger *slog.Logger
}

// NewEngine creates an Engine. All strategies share the same store and
// fetcher; bg receives background revalidation work.
func NewEngine(store *cachestore.Store, fetch Fetcher, bg Background) *Engine {
	return &Engine{
		store:  store,
		fetch:  fetch,
		bg:     bg,
		logger: slog.Default(),
	}
}

// Key returns the cache key for a request: the full URL for cross-origin
// requests (trusted image hosts), otherwise the root-relative request URI.
func Key(r *http.Request) string {
	if r.URL.Host != "" {
		return r.URL.String()
	}
	return r.URL.RequestURI()
}

// CacheFirst returns the cached entry if present; otherwise fetches,
// stores on 200, and returns the network response. Used for the static
// app shell.
func (e *Engine) CacheFirst(ctx context.Context, req *http.Request, partition string) (cachestore.Entry, error) {
	if cached, ok := e.lookup(partition, Key(req)); ok {
		return cached, nil
	}

	entry, err := e.fetch.Fetch(ctx, req)
	if err != nil {
		return cachestore.Entry{}, fmt.Errorf("fetching %s: %w", Key(req), err)
	}
	e.put(partition, entry)
	return entry, nil
}

// CacheFirstWithFallback behaves like CacheFirst, but when the network
// also fails it returns the fixed fallback entry (the image placeholder)
// instead of propagating the error.
func (e *Engine) CacheFirstWithFallback(ctx context.Context, req *http.Request, partition, fallbackURL string) (cachestore.Entry, error) {
	if cached, ok := e.lookup(partition, Key(req)); ok {
		return cached, nil
	}

	entry, err := e.fetch.Fetch(ctx, req)
	if err == nil {
		e.put(partition, entry)
		return entry, nil
	}

	fallback, ferr := e.store.Match(fallbackURL)
	if ferr != nil {
		return cachestore.Entry{}, fmt.Errorf("fetching %s (no fallback cached): %w", Key(req), err)
	}
	return fallback, nil
}

// NetworkFirstWithCache attempts the network first, storing 200 responses;
// on failure it falls back to the cached entry, else propagates the error.
// Used for API data where freshness beats availability.
func (e *Engine) NetworkFirstWithCache(ctx context.Context, req *http.Request, partition string) (cachestore.Entry, error) {
	entry, err := e.fetch.Fetch(ctx, req)
	if err == nil {
		e.put(partition, entry)
		return entry, nil
	}

	if cached, ok := e.lookup(partition, Key(req)); ok {
		return cached, nil
	}
	return cachestore.Entry{}, fmt.Errorf("fetching %s (nothing cached): %w", Key(req), err)
}

// NetworkFirstWithOffline attempts the network first, storing successful
// navigations in the dynamic partition; on failure it serves any cached
// copy of the exact URL, else the dedicated offline page.
func (e *Engine) NetworkFirstWithOffline(ctx context.Context, req *http.Request, partition, offlineURL string) (cachestore.Entry, error) {
	entry, err := e.fetch.Fetch(ctx, req)
	if err == nil {
		e.put(partition, entry)
		return entry, nil
	}

	if cached, cerr := e.store.Match(Key(req)); cerr == nil {
		return cached, nil
	}

	offline, oerr := e.store.Match(offlineURL)
	if oerr != nil {
		return cachestore.Entry{}, fmt.Errorf("fetching %s (offline page unavailable): %w", Key(req), err)
	}
	return offline, nil
}

// StaleWhileRevalidate returns the cached entry immediately when present
// and refreshes it in the background for next time. With no cached entry
// the caller waits on the network.
func (e *Engine) StaleWhileRevalidate(ctx context.Context, req *http.Request, partition string) (cachestore.Entry, error) {
	cached, ok := e.lookup(partition, Key(req))
	if !ok {
		entry, err := e.fetch.Fetch(ctx, req)
		if err != nil {
			return cachestore.Entry{}, fmt.Errorf("fetching %s: %w", Key(req), err)
		}
		e.put(partition, entry)
		return entry, nil
	}

	// Revalidate without blocking the response. Detached from the request
	// context: the response promise is already settled.
	revalidate := req.Clone(context.WithoutCancel(ctx))
	e.bg.Go(func() {
		entry, err := e.fetch.Fetch(revalidate.Context(), revalidate)
		if err != nil {
			e.logger.Debug("background revalidation failed", "url", Key(revalidate), "error", err)
			return
		}
		e.put(partition, entry)
	})

	return cached, nil
}

// lookup reads a cached entry, treating storage failures as misses so a
// degraded store never takes down the request path.
func (e *Engine) lookup(partition, key string) (cachestore.Entry, bool) {
	p, err := e.store.Open(partition)
	if err != nil {
		e.logger.Warn("opening partition failed", "partition", partition, "error", err)
		return cachestore.Entry{}, false
	}
	entry, err := p.Get(key)
	if err == nil {
		return entry, true
	}
	if err != cachestore.ErrNotFound {
		e.logger.Warn("cache read failed", "partition", partition, "url", key, "error", err)
	}
	return cachestore.Entry{}, false
}

// put stores a 200 response snapshot. Write failures are logged, never
// surfaced: losing a cache write costs one future network round trip.
func (e *Engine) put(partition string, entry cachestore.Entry) {
	if !entry.Cacheable() {
		return
	}
	p, err := e.store.Open(partition)
	if err != nil {
		e.logger.Warn("opening partition failed", "partition", partition, "error", err)
		return
	}
	if err := p.Put(entry); err != nil {
		e.logger.Warn("cache write failed", "partition", partition, "url", entry.URL, "error", err)
	}
}
