// Package worker is the event core of the caching layer: it gates and
// classifies intercepted requests, dispatches them to strategies, drives
// sync and periodic-sync tags, and sweeps partition size caps. All durable
// state lives in the cache store; a Worker holds only configuration and
// may be discarded and rebuilt at any time.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mufcstore/matchday/internal/cachestore"
	"github.com/mufcstore/matchday/internal/classify"
	"github.com/mufcstore/matchday/internal/lifecycle"
	"github.com/mufcstore/matchday/internal/notify"
	"github.com/mufcstore/matchday/internal/strategy"
	"github.com/mufcstore/matchday/internal/syncqueue"
)

// Config carries the per-version settings a Worker serves with.
type Config struct {
	Rules             classify.Rules
	Partitions        lifecycle.Partitions
	OfflinePath       string
	PlaceholderPath   string
	MaxImageEntries   int
	MaxDynamicEntries int
	SweepInterval     time.Duration
	PeriodicInterval  time.Duration
}

// Worker handles the intercepted-request path and the background event
// streams for one worker version.
type Worker struct {
	cfg      Config
	store    *cachestore.Store
	engine   *strategy.Engine
	fetch    strategy.Fetcher
	coord    *syncqueue.Coordinator
	notifier notify.Notifier
	tasks    *Tasks
	registry *Registry
	logger   *slog.Logger
}

// New creates a Worker and validates its tag registry.
func New(cfg Config, store *cachestore.Store, engine *strategy.Engine, fetch strategy.Fetcher, coord *syncqueue.Coordinator, notifier notify.Notifier, tasks *Tasks) (*Worker, error) {
	w := &Worker{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		fetch:    fetch,
		coord:    coord,
		notifier: notifier,
		tasks:    tasks,
		logger:   slog.Default(),
	}

	registry, err := NewRegistry(map[string]TagHandler{
		TagCartSync:       func(ctx context.Context) error { return coord.SyncKind(ctx, syncqueue.KindCart) },
		TagWishlistSync:   func(ctx context.Context) error { return coord.SyncKind(ctx, syncqueue.KindWishlist) },
		TagOrderSync:      func(ctx context.Context) error { return coord.SyncKind(ctx, syncqueue.KindOrder) },
		TagPriceUpdates:   w.UpdatePrices,
		TagInventoryCheck: w.CheckInventory,
	})
	if err != nil {
		return nil, fmt.Errorf("building tag registry: %w", err)
	}
	w.registry = registry
	return w, nil
}

// Handle answers an intercepted request. The returned bool reports whether
// the worker took the request at all: non-GET methods and non-fetchable
// schemes bypass interception entirely and must be passed through
// untouched by the caller.
func (w *Worker) Handle(ctx context.Context, r *http.Request) (cachestore.Entry, bool, error) {
	if r.Method != http.MethodGet {
		return cachestore.Entry{}, false, nil
	}
	if !fetchableScheme(r) {
		return cachestore.Entry{}, false, nil
	}

	class := w.cfg.Rules.Classify(r)
	entry, err := w.dispatch(ctx, r, class)
	if err == nil {
		w.sweepSoon(class)
		return entry, true, nil
	}

	// Last resort: any cached copy, then the offline page for navigations,
	// else let the caller surface its native error.
	if cached, cerr := w.store.Match(strategy.Key(r)); cerr == nil {
		w.logger.Warn("strategy failed, served from cache", "url", strategy.Key(r), "class", class.String(), "error", err)
		return cached, true, nil
	}
	if class == classify.Navigation {
		if offline, oerr := w.store.Match(w.cfg.OfflinePath); oerr == nil {
			return offline, true, nil
		}
	}
	return cachestore.Entry{}, true, err
}

func (w *Worker) dispatch(ctx context.Context, r *http.Request, class classify.ResourceClass) (cachestore.Entry, error) {
	p := w.cfg.Partitions
	switch class {
	case classify.Static:
		return w.engine.CacheFirst(ctx, r, p.Static)
	case classify.Image:
		return w.engine.CacheFirstWithFallback(ctx, r, p.Images, w.cfg.PlaceholderPath)
	case classify.API:
		return w.engine.NetworkFirstWithCache(ctx, r, p.Dynamic)
	case classify.Navigation:
		return w.engine.NetworkFirstWithOffline(ctx, r, p.Dynamic, w.cfg.OfflinePath)
	default:
		return w.engine.StaleWhileRevalidate(ctx, r, p.Dynamic)
	}
}

// fetchableScheme reports whether the request URL uses a scheme the worker
// intercepts. Extension-internal and other exotic schemes never reach the
// classifier.
func fetchableScheme(r *http.Request) bool {
	switch r.URL.Scheme {
	case "", "http", "https":
		return true
	}
	return false
}

// OnOnline drains every deferred action queue; fired when the host signals
// that connectivity returned.
func (w *Worker) OnOnline(ctx context.Context) error {
	return w.coord.SyncAll(ctx)
}

// OnSync dispatches a background sync or periodic sync tag.
func (w *Worker) OnSync(ctx context.Context, tag string) error {
	return w.registry.Dispatch(ctx, tag)
}

// Tags returns the tags this worker responds to.
func (w *Worker) Tags() []string {
	return w.registry.Tags()
}

// Run drives the timed event streams until ctx is cancelled: the partition
// size sweep and the periodic refresh tags.
func (w *Worker) Run(ctx context.Context) {
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()
	periodic := time.NewTicker(w.cfg.PeriodicInterval)
	defer periodic.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			w.SweepCaches()
		case <-periodic.C:
			for _, tag := range []string{TagPriceUpdates, TagInventoryCheck} {
				if err := w.registry.Dispatch(ctx, tag); err != nil {
					w.logger.Warn("periodic sync failed", "tag", tag, "error", err)
				}
			}
		}
	}
}

// SweepCaches trims the capped partitions to their configured entry
// limits, oldest insertions first.
func (w *Worker) SweepCaches() {
	caps := []struct {
		name string
		max  int
	}{
		{w.cfg.Partitions.Images, w.cfg.MaxImageEntries},
		{w.cfg.Partitions.Dynamic, w.cfg.MaxDynamicEntries},
	}
	for _, c := range caps {
		p, err := w.store.Open(c.name)
		if err != nil {
			w.logger.Warn("sweep: opening partition failed", "partition", c.name, "error", err)
			continue
		}
		n, err := p.Evict(c.max)
		if err != nil {
			w.logger.Warn("sweep: eviction failed", "partition", c.name, "error", err)
			continue
		}
		if n > 0 {
			w.logger.Info("evicted cache entries", "partition", c.name, "count", n)
		}
	}
}

// sweepSoon schedules an eviction check after writes to capped partitions.
func (w *Worker) sweepSoon(class classify.ResourceClass) {
	if class == classify.Static {
		return
	}
	w.tasks.Go(w.SweepCaches)
}

// UpdatePrices refreshes the price snapshot from the origin and stores it
// for offline use.
func (w *Worker) UpdatePrices(ctx context.Context) error {
	entry, err := w.fetchJSON(ctx, "/api/prices/latest")
	if err != nil {
		return err
	}
	dynamic, err := w.store.Open(w.cfg.Partitions.Dynamic)
	if err != nil {
		return err
	}
	return dynamic.PutData("latest-prices", json.RawMessage(entry.Body))
}

type inventoryItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// lowStockThreshold is the stock level below which an item counts as
// running low in the inventory check.
const lowStockThreshold = 5

// CheckInventory refreshes the inventory snapshot and raises a low-stock
// notification when items run short.
func (w *Worker) CheckInventory(ctx context.Context) error {
	entry, err := w.fetchJSON(ctx, "/api/inventory/status")
	if err != nil {
		return err
	}

	dynamic, err := w.store.Open(w.cfg.Partitions.Dynamic)
	if err != nil {
		return err
	}
	if err := dynamic.PutData("inventory-status", json.RawMessage(entry.Body)); err != nil {
		return err
	}

	var items []inventoryItem
	if err := json.Unmarshal(entry.Body, &items); err != nil {
		return fmt.Errorf("parsing inventory status: %w", err)
	}
	low := 0
	for _, item := range items {
		if item.Stock < lowStockThreshold {
			low++
		}
	}
	if low == 0 || w.notifier == nil {
		return nil
	}

	d := notify.Defaults()
	d.Tag = "low-stock"
	d.Title = "Low Stock Alert"
	d.Body = fmt.Sprintf("%d items are running low", low)
	if err := w.notifier.Show(ctx, d); err != nil {
		w.logger.Warn("low stock notification not shown", "error", err)
	}
	return nil
}

func (w *Worker) fetchJSON(ctx context.Context, path string) (cachestore.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cachestore.Entry{}, fmt.Errorf("building request for %s: %w", path, err)
	}
	entry, err := w.fetch.Fetch(ctx, req)
	if err != nil {
		return cachestore.Entry{}, fmt.Errorf("fetching %s: %w", path, err)
	}
	if entry.Status != http.StatusOK {
		return cachestore.Entry{}, fmt.Errorf("fetching %s: origin returned %d", path, entry.Status)
	}
	return entry, nil
}
