package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/mufcstore/matchday/internal/cachestore"
)

// manifestFetcher serves 200s for known assets and 404s for the rest.
type manifestFetcher struct {
	mu      sync.Mutex
	known   map[string]string
	fetched []string
}

func (f *manifestFetcher) Fetch(ctx context.Context, req *http.Request) (cachestore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := req.URL.Path
	f.fetched = append(f.fetched, path)
	if body, ok := f.known[path]; ok {
		return cachestore.Entry{
			URL:    path,
			Status: http.StatusOK,
			Header: http.Header{},
			Body:   []byte(body),
		}, nil
	}
	return cachestore.Entry{URL: path, Status: http.StatusNotFound, Header: http.Header{}}, nil
}

func openTestStore(t *testing.T) *cachestore.Store {
	t.Helper()
	s, err := cachestore.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeployPrecachesAndActivates(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{
		"/":        "shell",
		"/offline": "offline page",
	}}
	c := NewController(store, fetch, "mufc", nil)

	v, err := c.Deploy(context.Background(), "2.1", []string{"/", "/offline"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if v.State() != Active {
		t.Errorf("state = %s, want active", v.State())
	}
	if c.Active() != v {
		t.Error("deployed version is not the active one")
	}

	static, _ := store.Open("mufc-static-v2.1")
	for _, asset := range []string{"/", "/offline"} {
		if _, err := static.Get(asset); err != nil {
			t.Errorf("asset %s not precached: %v", asset, err)
		}
	}
}

func TestInstallIsAtomic(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{
		"/": "shell",
		// /offline missing: the origin 404s it.
	}}
	c := NewController(store, fetch, "mufc", nil)

	_, err := c.Deploy(context.Background(), "2.1", []string{"/", "/offline"})
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Deploy = %v, want ErrInstallFailed", err)
	}
	if c.Active() != nil {
		t.Error("failed install still claimed traffic")
	}

	// The half-cached shell was cleaned up.
	static, _ := store.Open("mufc-static-v2.1")
	if n, _ := static.Count(); n != 0 {
		t.Errorf("failed install left %d entries behind", n)
	}
}

func TestFailedInstallKeepsPreviousVersion(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{"/": "shell"}}
	c := NewController(store, fetch, "mufc", nil)

	v1, err := c.Deploy(context.Background(), "2.0", []string{"/"})
	if err != nil {
		t.Fatalf("Deploy v2.0: %v", err)
	}

	if _, err := c.Deploy(context.Background(), "2.1", []string{"/", "/broken"}); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Deploy v2.1 = %v, want ErrInstallFailed", err)
	}

	if c.Active() != v1 {
		t.Error("previous version lost traffic after a failed install")
	}
	if v1.State() != Active {
		t.Errorf("v2.0 state = %s, want active", v1.State())
	}
}

func TestNewVersionPurgesStalePartitionsBeforeClaim(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{"/": "shell"}}

	var claimed []string
	c := NewController(store, fetch, "mufc", nil)
	c.OnClaim(func(v *Version) {
		claimed = append(claimed, v.Version)
		// The purge happened before this claim ran.
		names, _ := store.Names()
		for _, name := range names {
			if !v.Partitions.ActiveSet()[name] {
				t.Errorf("claim of v%s saw stale partition %s", v.Version, name)
			}
		}
	})

	v1, err := c.Deploy(context.Background(), "2.0", []string{"/"})
	if err != nil {
		t.Fatalf("Deploy v2.0: %v", err)
	}
	dynamic, _ := store.Open(v1.Partitions.Dynamic)
	dynamic.Put(cachestore.Entry{URL: "/api/products", Status: 200, Header: http.Header{}, Body: []byte("[]")})

	v2, err := c.Deploy(context.Background(), "2.1", []string{"/"})
	if err != nil {
		t.Fatalf("Deploy v2.1: %v", err)
	}

	if v1.State() != Redundant {
		t.Errorf("v2.0 state = %s, want redundant", v1.State())
	}
	if c.Active() != v2 {
		t.Error("v2.1 did not claim traffic")
	}

	names, _ := store.Names()
	for _, name := range names {
		if name == v1.Partitions.Dynamic || name == v1.Partitions.Static {
			t.Errorf("stale partition %s survived activation", name)
		}
	}

	if len(claimed) != 2 || claimed[0] != "2.0" || claimed[1] != "2.1" {
		t.Errorf("claims = %v, want [2.0 2.1]", claimed)
	}
}

func TestRedundantVersionCannotActivate(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{"/": "shell"}}
	c := NewController(store, fetch, "mufc", nil)

	v := &Version{Version: "2.0", Partitions: PartitionsFor("mufc", "2.0")}
	v.state = Redundant

	if err := c.Activate(context.Background(), v); err == nil {
		t.Error("redundant version activated")
	}
}

func TestOnUpdateFiresOnlyOverActiveVersion(t *testing.T) {
	store := openTestStore(t)
	fetch := &manifestFetcher{known: map[string]string{"/": "shell"}}

	var updates []string
	c := NewController(store, fetch, "mufc", func(version string) {
		updates = append(updates, version)
	})

	if _, err := c.Deploy(context.Background(), "2.0", []string{"/"}); err != nil {
		t.Fatalf("Deploy v2.0: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("first deploy fired update notification: %v", updates)
	}

	if _, err := c.Deploy(context.Background(), "2.1", []string{"/"}); err != nil {
		t.Fatalf("Deploy v2.1: %v", err)
	}
	if len(updates) != 1 || updates[0] != "2.1" {
		t.Errorf("updates = %v, want [2.1]", updates)
	}
}

func TestPartitionNames(t *testing.T) {
	p := PartitionsFor("mufc", "2.1")
	want := Partitions{
		Store:   "mufc-store-v2.1",
		Static:  "mufc-static-v2.1",
		Dynamic: "mufc-dynamic-v2.1",
		Images:  "mufc-images-v2.1",
	}
	if p != want {
		t.Errorf("PartitionsFor = %+v, want %+v", p, want)
	}
}
