package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mufcstore/matchday/internal/cachestore"
)

// mockFetcher serves canned entries and records every fetch.
type mockFetcher struct {
	mu      sync.Mutex
	entries map[string]cachestore.Entry
	err     error
	fetched []string
}

func (m *mockFetcher) Fetch(ctx context.Context, req *http.Request) (cachestore.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(req)
	m.fetched = append(m.fetched, key)
	if m.err != nil {
		return cachestore.Entry{}, m.err
	}
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	return cachestore.Entry{URL: key, Status: http.StatusNotFound, Header: http.Header{}}, nil
}

func (m *mockFetcher) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

// syncBg runs background work inline so tests observe its effects
// immediately.
type syncBg struct{}

func (syncBg) Go(fn func()) { fn() }

var errOffline = errors.New("network unreachable")

func ok(url, body string) cachestore.Entry {
	return cachestore.Entry{
		URL:    url,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(body),
	}
}

func newTestEngine(t *testing.T, fetch Fetcher) (*Engine, *cachestore.Store) {
	t.Helper()
	store, err := cachestore.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, fetch, syncBg{}), store
}

func get(target string) *http.Request {
	return httptest.NewRequest("GET", target, nil)
}

func TestCacheFirstServesCacheWithoutNetwork(t *testing.T) {
	fetch := &mockFetcher{}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("static")
	p.Put(ok("/app.js", "cached"))

	got, err := eng.CacheFirst(context.Background(), get("/app.js"), "static")
	if err != nil {
		t.Fatalf("CacheFirst: %v", err)
	}
	if string(got.Body) != "cached" {
		t.Errorf("body = %q, want cached copy", got.Body)
	}
	if fetch.fetchCount() != 0 {
		t.Errorf("network touched on cache hit: %v", fetch.fetched)
	}
}

func TestCacheFirstMissFetchesAndStores(t *testing.T) {
	fetch := &mockFetcher{entries: map[string]cachestore.Entry{
		"/app.js": ok("/app.js", "fresh"),
	}}
	eng, store := newTestEngine(t, fetch)

	got, err := eng.CacheFirst(context.Background(), get("/app.js"), "static")
	if err != nil {
		t.Fatalf("CacheFirst: %v", err)
	}
	if string(got.Body) != "fresh" {
		t.Errorf("body = %q", got.Body)
	}

	p, _ := store.Open("static")
	if cached, err := p.Get("/app.js"); err != nil || string(cached.Body) != "fresh" {
		t.Errorf("miss was not stored: %v", err)
	}
}

func TestNon200NeverCached(t *testing.T) {
	fetch := &mockFetcher{} // unknown URLs come back 404
	eng, store := newTestEngine(t, fetch)

	got, err := eng.CacheFirst(context.Background(), get("/gone.js"), "static")
	if err != nil {
		t.Fatalf("CacheFirst: %v", err)
	}
	if got.Status != http.StatusNotFound {
		t.Fatalf("status = %d", got.Status)
	}

	p, _ := store.Open("static")
	if _, err := p.Get("/gone.js"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Error("404 response was written to the cache")
	}
}

func TestCacheFirstWithFallbackServesPlaceholder(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("static")
	p.Put(ok("/placeholder.svg", "<svg/>"))

	got, err := eng.CacheFirstWithFallback(context.Background(), get("/kit.png"), "images", "/placeholder.svg")
	if err != nil {
		t.Fatalf("CacheFirstWithFallback: %v", err)
	}
	if string(got.Body) != "<svg/>" {
		t.Errorf("body = %q, want placeholder", got.Body)
	}
}

func TestCacheFirstWithFallbackNoPlaceholderPropagates(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, _ := newTestEngine(t, fetch)

	_, err := eng.CacheFirstWithFallback(context.Background(), get("/kit.png"), "images", "/placeholder.svg")
	if !errors.Is(err, errOffline) {
		t.Errorf("err = %v, want the network error", err)
	}
}

func TestNetworkFirstPrefersNetwork(t *testing.T) {
	fetch := &mockFetcher{entries: map[string]cachestore.Entry{
		"/api/products": ok("/api/products", "fresh"),
	}}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("dynamic")
	p.Put(ok("/api/products", "stale"))

	got, err := eng.NetworkFirstWithCache(context.Background(), get("/api/products"), "dynamic")
	if err != nil {
		t.Fatalf("NetworkFirstWithCache: %v", err)
	}
	if string(got.Body) != "fresh" {
		t.Errorf("body = %q, want network response", got.Body)
	}

	// The snapshot is refreshed for the next offline stretch.
	if cached, _ := p.Get("/api/products"); string(cached.Body) != "fresh" {
		t.Errorf("snapshot not refreshed: %q", cached.Body)
	}
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("dynamic")
	p.Put(ok("/api/products", "stale"))

	got, err := eng.NetworkFirstWithCache(context.Background(), get("/api/products"), "dynamic")
	if err != nil {
		t.Fatalf("NetworkFirstWithCache: %v", err)
	}
	if string(got.Body) != "stale" {
		t.Errorf("body = %q, want cached copy", got.Body)
	}
}

func TestNetworkFirstNothingCachedPropagates(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, _ := newTestEngine(t, fetch)

	_, err := eng.NetworkFirstWithCache(context.Background(), get("/api/products"), "dynamic")
	if !errors.Is(err, errOffline) {
		t.Errorf("err = %v, want the network error", err)
	}
}

func TestNetworkFirstWithOfflinePage(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("static")
	p.Put(ok("/offline", "offline page"))

	got, err := eng.NetworkFirstWithOffline(context.Background(), get("/catalog"), "dynamic", "/offline")
	if err != nil {
		t.Fatalf("NetworkFirstWithOffline: %v", err)
	}
	if string(got.Body) != "offline page" {
		t.Errorf("body = %q, want offline page", got.Body)
	}
}

func TestNetworkFirstWithOfflinePrefersExactCopy(t *testing.T) {
	fetch := &mockFetcher{err: errOffline}
	eng, store := newTestEngine(t, fetch)

	static, _ := store.Open("static")
	static.Put(ok("/offline", "offline page"))
	dynamic, _ := store.Open("dynamic")
	dynamic.Put(ok("/catalog", "cached catalog"))

	got, err := eng.NetworkFirstWithOffline(context.Background(), get("/catalog"), "dynamic", "/offline")
	if err != nil {
		t.Fatalf("NetworkFirstWithOffline: %v", err)
	}
	if string(got.Body) != "cached catalog" {
		t.Errorf("body = %q, want the page's own cached copy", got.Body)
	}
}

func TestStaleWhileRevalidateServesStaleAndRefreshes(t *testing.T) {
	fetch := &mockFetcher{entries: map[string]cachestore.Entry{
		"/widget.json": ok("/widget.json", "v2"),
	}}
	eng, store := newTestEngine(t, fetch)

	p, _ := store.Open("dynamic")
	p.Put(ok("/widget.json", "v1"))

	got, err := eng.StaleWhileRevalidate(context.Background(), get("/widget.json"), "dynamic")
	if err != nil {
		t.Fatalf("StaleWhileRevalidate: %v", err)
	}
	if string(got.Body) != "v1" {
		t.Errorf("body = %q, want the stale copy", got.Body)
	}

	// syncBg ran the revalidation inline.
	if cached, _ := p.Get("/widget.json"); string(cached.Body) != "v2" {
		t.Errorf("revalidation did not land: %q", cached.Body)
	}
}

func TestStaleWhileRevalidateMissWaitsOnNetwork(t *testing.T) {
	fetch := &mockFetcher{entries: map[string]cachestore.Entry{
		"/widget.json": ok("/widget.json", "v1"),
	}}
	eng, _ := newTestEngine(t, fetch)

	got, err := eng.StaleWhileRevalidate(context.Background(), get("/widget.json"), "dynamic")
	if err != nil {
		t.Fatalf("StaleWhileRevalidate: %v", err)
	}
	if string(got.Body) != "v1" {
		t.Errorf("body = %q", got.Body)
	}
	if fetch.fetchCount() != 1 {
		t.Errorf("fetches = %d, want 1", fetch.fetchCount())
	}
}

func TestKey(t *testing.T) {
	if k := Key(get("/api/products?page=2")); k != "/api/products?page=2" {
		t.Errorf("same-origin key = %q", k)
	}
	if k := Key(get("https://i.pinimg.com/kit.png")); k != "https://i.pinimg.com/kit.png" {
		t.Errorf("cross-origin key = %q", k)
	}
}
