package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(url string, status int, body string) Entry {
	return Entry{
		URL:    url,
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(body),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and
// verifies the migration is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	var n int
	if err := s2.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if n != 1 {
		t.Errorf("schema_version rows = %d, want 1", n)
	}
}

func TestOpenPartitionIdempotent(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Open("mufc-static-v2.1"); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := s.Open("mufc-static-v2.1"); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	names, err := s.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("partitions = %v, want exactly one", names)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p, _ := s.Open("mufc-dynamic-v2.1")

	want := entry("/api/products", 200, `[{"id":"home-kit"}]`)
	if err := p.Put(want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := p.Get("/api/products")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != want.URL || got.Status != want.Status || string(got.Body) != string(want.Body) {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/html" {
		t.Errorf("header lost: %v", got.Header)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	p, _ := s.Open("mufc-dynamic-v2.1")

	if _, err := p.Get("/nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

// TestKeysInsertionOrder verifies eviction order bookkeeping: keys come
// back oldest insertion first, and an overwrite counts as a fresh
// insertion.
func TestKeysInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	p, _ := s.Open("mufc-images-v2.1")

	for _, url := range []string{"/a.png", "/b.png", "/c.png"} {
		if err := p.Put(entry(url, 200, "img")); err != nil {
			t.Fatalf("Put %s: %v", url, err)
		}
	}
	// Overwriting /a.png moves it to the back of the line.
	if err := p.Put(entry("/a.png", 200, "img2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	keys, err := p.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"/b.png", "/c.png", "/a.png"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestEvictOldestFirst(t *testing.T) {
	s := openTestStore(t)
	p, _ := s.Open("mufc-images-v2.1")

	for i := 0; i < 5; i++ {
		if err := p.Put(entry(fmt.Sprintf("/img-%d.png", i), 200, "img")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	n, err := p.Evict(3)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 2 {
		t.Errorf("evicted = %d, want 2", n)
	}

	keys, _ := p.Keys()
	want := []string{"/img-2.png", "/img-3.png", "/img-4.png"}
	if len(keys) != 3 {
		t.Fatalf("keys after evict = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestEvictSparesDataRecords(t *testing.T) {
	s := openTestStore(t)
	p, _ := s.Open("mufc-dynamic-v2.1")

	if err := p.PutData("latest-prices", map[string]int{"home-kit": 90}); err != nil {
		t.Fatalf("PutData: %v", err)
	}
	for i := 0; i < 3; i++ {
		p.Put(entry(fmt.Sprintf("/api/p%d", i), 200, "{}"))
	}

	if _, err := p.Evict(0); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	var prices map[string]int
	if err := p.GetData("latest-prices", &prices); err != nil {
		t.Fatalf("data record evicted: %v", err)
	}
	if prices["home-kit"] != 90 {
		t.Errorf("prices = %v", prices)
	}
}

func TestPurgeStale(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"mufc-static-v2.0", "mufc-static-v2.1", "mufc-dynamic-v2.1"} {
		p, _ := s.Open(name)
		p.Put(entry("/", 200, "shell"))
	}

	purged, err := s.PurgeStale(map[string]bool{
		"mufc-static-v2.1":  true,
		"mufc-dynamic-v2.1": true,
	})
	if err != nil {
		t.Fatalf("PurgeStale: %v", err)
	}
	if len(purged) != 1 || purged[0] != "mufc-static-v2.0" {
		t.Errorf("purged = %v, want [mufc-static-v2.0]", purged)
	}

	names, _ := s.Names()
	if len(names) != 2 {
		t.Errorf("remaining partitions = %v", names)
	}

	// The stale partition's entries are gone too.
	old, _ := s.Open("mufc-static-v2.0")
	if _, err := old.Get("/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale entry survived purge: %v", err)
	}
}

func TestMatchAcrossPartitions(t *testing.T) {
	s := openTestStore(t)

	older, _ := s.Open("mufc-dynamic-v2.0")
	older.Put(entry("/catalog", 200, "old"))
	newer, _ := s.Open("mufc-dynamic-v2.1")
	newer.Put(entry("/catalog", 200, "new"))

	got, err := s.Match("/catalog")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(got.Body) != "new" {
		t.Errorf("Match body = %q, want newest insertion", got.Body)
	}
}

func TestActionQueueFIFO(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := s.EnqueueAction("cart", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("EnqueueAction: %v", err)
		}
		ids = append(ids, a.ID)
	}
	// Another kind's queue is independent.
	if _, err := s.EnqueueAction("order", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("EnqueueAction order: %v", err)
	}

	pending, err := s.PendingActions("cart")
	if err != nil {
		t.Fatalf("PendingActions: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, a := range pending {
		if a.ID != ids[i] {
			t.Errorf("pending[%d].ID = %q, want %q (enqueue order)", i, a.ID, ids[i])
		}
	}
}

// TestClearActionsThrough verifies the halt bookkeeping: clearing through
// a seq removes exactly the acknowledged prefix.
func TestClearActionsThrough(t *testing.T) {
	s := openTestStore(t)

	a1, _ := s.EnqueueAction("cart", json.RawMessage(`{"n":1}`))
	a2, _ := s.EnqueueAction("cart", json.RawMessage(`{"n":2}`))
	a3, _ := s.EnqueueAction("cart", json.RawMessage(`{"n":3}`))

	if err := s.ClearActionsThrough("cart", a1.Seq); err != nil {
		t.Fatalf("ClearActionsThrough: %v", err)
	}

	pending, _ := s.PendingActions("cart")
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != a2.ID || pending[1].ID != a3.ID {
		t.Errorf("pending = [%s %s], want [%s %s]", pending[0].ID, pending[1].ID, a2.ID, a3.ID)
	}

	n, err := s.ActionCount("cart")
	if err != nil {
		t.Fatalf("ActionCount: %v", err)
	}
	if n != 2 {
		t.Errorf("ActionCount = %d, want 2", n)
	}
}

func TestSubscriptionUpsertKeepsID(t *testing.T) {
	s := openTestStore(t)

	first, err := s.SaveSubscription("https://push.example.com/ep1", json.RawMessage(`{"p256dh":"a"}`))
	if err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}

	second, err := s.SaveSubscription("https://push.example.com/ep1", json.RawMessage(`{"p256dh":"b"}`))
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-subscribe changed id: %q -> %q", first.ID, second.ID)
	}
	if string(second.Keys) != `{"p256dh":"b"}` {
		t.Errorf("keys not updated: %q", second.Keys)
	}

	subs, _ := s.Subscriptions()
	if len(subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(subs))
	}
}

func TestDeleteSubscription(t *testing.T) {
	s := openTestStore(t)

	sub, _ := s.SaveSubscription("https://push.example.com/ep1", nil)
	if err := s.DeleteSubscription(sub.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := s.DeleteSubscription(sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestStorageErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := &StorageError{Op: "inserting entry", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StorageError does not unwrap to its cause")
	}
	if !IsStorage(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsStorage missed a wrapped StorageError")
	}
}
