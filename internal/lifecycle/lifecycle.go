// Package lifecycle governs worker versions: install (pre-warm the static
// partition), activate (purge stale partitions), and claim (switch live
// traffic to the new version without a restart).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mufcstore/matchday/internal/cachestore"
	"github.com/mufcstore/matchday/internal/strategy"
)

// ErrInstallFailed marks an install step aborted because a static asset
// could not be precached. The previously active version keeps serving.
var ErrInstallFailed = errors.New("install failed")

// State is a worker version's position in the lifecycle.
type State int

const (
	Installing State = iota
	Waiting
	Activating
	Active
	// Redundant is terminal: a newer version superseded this one.
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return "redundant"
	}
}

// Partitions is the version-keyed partition name set for one worker
// version. Names follow {prefix}-{role}-v{version}; activation retains
// exactly this set and purges everything else.
type Partitions struct {
	Store   string
	Static  string
	Dynamic string
	Images  string
}

// PartitionsFor derives the partition names for a version.
func PartitionsFor(prefix, version string) Partitions {
	return Partitions{
		Store:   fmt.Sprintf("%s-store-v%s", prefix, version),
		Static:  fmt.Sprintf("%s-static-v%s", prefix, version),
		Dynamic: fmt.Sprintf("%s-dynamic-v%s", prefix, version),
		Images:  fmt.Sprintf("%s-images-v%s", prefix, version),
	}
}

// ActiveSet returns the names as the retention set for PurgeStale.
func (p Partitions) ActiveSet() map[string]bool {
	return map[string]bool{
		p.Store:   true,
		p.Static:  true,
		p.Dynamic: true,
		p.Images:  true,
	}
}

// Version is one deployed worker version moving through the lifecycle.
type Version struct {
	Version    string
	Partitions Partitions
	Manifest   []string

	mu    sync.Mutex
	state State
}

// State returns the version's current lifecycle state.
func (v *Version) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Version) setState(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Redundant {
		return
	}
	v.state = s
}

// supersede marks the version Redundant unless it already claimed traffic.
func (v *Version) supersede() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Active {
		return false
	}
	v.state = Redundant
	return true
}

// retire demotes the version unconditionally. Used on the previously
// active version once its successor has claimed traffic.
func (v *Version) retire() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = Redundant
}

// Controller deploys worker versions against a shared partition store.
type Controller struct {
	store    *cachestore.Store
	fetch    strategy.Fetcher
	prefix   string
	onUpdate func(version string)
	onClaim  func(v *Version)
	logger   *slog.Logger

	mu      sync.Mutex
	waiting *Version
	active  atomic.Pointer[Version]
}

// NewController creates a Controller. onUpdate is invoked when a new
// version finishes installing while another is active, so the host UI can
// prompt a reload; it may be nil.
func NewController(store *cachestore.Store, fetch strategy.Fetcher, prefix string, onUpdate func(version string)) *Controller {
	return &Controller{
		store:    store,
		fetch:    fetch,
		prefix:   prefix,
		onUpdate: onUpdate,
		logger:   slog.Default(),
	}
}

// OnClaim registers a callback invoked each time a version claims traffic,
// after the stale-partition purge. Set it before the first Deploy.
func (c *Controller) OnClaim(fn func(v *Version)) {
	c.onClaim = fn
}

// Active returns the version currently claiming traffic, or nil before the
// first activation.
func (c *Controller) Active() *Version {
	return c.active.Load()
}

// Deploy runs a version through install, activate, and claim. Install is
// atomic over the manifest; any failed asset aborts the deploy and leaves
// the previous version serving. Skip-waiting semantics: a successfully
// installed version activates immediately instead of waiting for open
// sessions to end.
func (c *Controller) Deploy(ctx context.Context, version string, manifest []string) (*Version, error) {
	v := &Version{
		Version:    version,
		Partitions: PartitionsFor(c.prefix, version),
		Manifest:   manifest,
		state:      Installing,
	}

	// A version still waiting when a newer one arrives never activates.
	c.mu.Lock()
	if c.waiting != nil && c.waiting.supersede() {
		c.logger.Info("superseded waiting version", "version", c.waiting.Version)
	}
	c.waiting = v
	c.mu.Unlock()

	c.logger.Info("installing worker version", "version", version, "assets", len(manifest))
	if err := c.install(ctx, v); err != nil {
		v.supersede()
		// Drop the half-cached shell so a retried deploy starts clean.
		if derr := c.store.Delete(v.Partitions.Static); derr != nil {
			c.logger.Warn("cleaning up failed install", "version", version, "error", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	v.setState(Waiting)

	if prev := c.active.Load(); prev != nil && c.onUpdate != nil {
		c.onUpdate(version)
	}

	if err := c.Activate(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// install pre-populates the version's static partition with the full
// manifest. All-or-nothing: only a complete shell may be promoted.
func (c *Controller) install(ctx context.Context, v *Version) error {
	static, err := c.store.Open(v.Partitions.Static)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, asset := range v.Manifest {
		asset := asset
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
			if err != nil {
				return fmt.Errorf("building request for %s: %w", asset, err)
			}
			entry, err := c.fetch.Fetch(ctx, req)
			if err != nil {
				return fmt.Errorf("precaching %s: %w", asset, err)
			}
			if !entry.Cacheable() {
				return fmt.Errorf("precaching %s: origin returned %d", asset, entry.Status)
			}
			return static.Put(entry)
		})
	}
	return g.Wait()
}

// Activate purges partitions outside the version's name set and then
// claims traffic. Purge completes before the claim so no request is ever
// served from a partition about to be deleted.
func (c *Controller) Activate(ctx context.Context, v *Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v.State() == Redundant {
		return fmt.Errorf("version %s is redundant", v.Version)
	}
	v.setState(Activating)

	purged, err := c.store.PurgeStale(v.Partitions.ActiveSet())
	if err != nil {
		return fmt.Errorf("purging stale partitions: %w", err)
	}
	for _, name := range purged {
		c.logger.Info("purged stale partition", "partition", name)
	}

	// Claim: existing sessions switch to this version immediately.
	prev := c.active.Swap(v)
	if prev != nil {
		prev.retire()
	}
	v.setState(Active)
	if c.waiting == v {
		c.waiting = nil
	}
	if c.onClaim != nil {
		c.onClaim(v)
	}
	c.logger.Info("worker version active", "version", v.Version)
	return nil
}
