// Package syncqueue replays deferred client actions once connectivity
// returns. Actions are recorded per kind in durable FIFO queues and a
// kind's queue is cleared only after every entry in it has been
// acknowledged by the origin.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mufcstore/matchday/internal/cachestore"
	"github.com/mufcstore/matchday/internal/notify"
)

// Action kinds and their sync tags.
const (
	KindCart     = "cart"
	KindWishlist = "wishlist"
	KindOrder    = "order"
)

// Kinds lists every action kind, in no particular order; replay across
// kinds is concurrent and unordered.
var Kinds = []string{KindCart, KindWishlist, KindOrder}

// drained maps a kind to the confirmation shown after its queue empties.
var drained = map[string]struct{ tag, title, body string }{
	KindCart:     {"cart-sync", "Cart Synced", "Your cart has been synchronized"},
	KindWishlist: {"wishlist-sync", "Wishlist Synced", "Your wishlist has been synchronized"},
	KindOrder:    {"order-sync", "Orders Submitted", "Your offline orders have been submitted"},
}

// ActionLog is the durable queue the coordinator drains.
type ActionLog interface {
	EnqueueAction(kind string, payload json.RawMessage) (cachestore.Action, error)
	PendingActions(kind string) ([]cachestore.Action, error)
	ClearActionsThrough(kind string, through int64) error
}

// Replayer applies one recorded action against its remote endpoint.
type Replayer interface {
	Replay(ctx context.Context, a cachestore.Action) error
}

// ReplayError marks a halted queue drain: the named action failed, and it
// plus every action after it remain queued for the next trigger.
type ReplayError struct {
	Kind     string
	ActionID string
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replaying %s action %s: %v", e.Kind, e.ActionID, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Coordinator drains the deferred action queues.
type Coordinator struct {
	log      ActionLog
	replay   Replayer
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. notifier shows the per-kind synced
// confirmation; pass nil to suppress confirmations (tests).
func NewCoordinator(log ActionLog, replay Replayer, notifier notify.Notifier) *Coordinator {
	return &Coordinator{
		log:      log,
		replay:   replay,
		notifier: notifier,
		logger:   slog.Default(),
	}
}

// Enqueue durably records a deferred action for later replay.
func (c *Coordinator) Enqueue(kind string, payload json.RawMessage) (cachestore.Action, error) {
	if _, ok := drained[kind]; !ok {
		return cachestore.Action{}, fmt.Errorf("unknown action kind %q", kind)
	}
	a, err := c.log.EnqueueAction(kind, payload)
	if err != nil {
		return cachestore.Action{}, err
	}
	c.logger.Info("deferred action recorded", "kind", kind, "id", a.ID)
	return a, nil
}

// SyncAll drains every kind's queue. Kinds run concurrently and
// independently: a halt in one kind never cancels another kind's drain,
// each queue always finishes its own cycle. Returns the first halt error
// after every kind is done.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	var g errgroup.Group
	for _, kind := range Kinds {
		kind := kind
		g.Go(func() error {
			return c.SyncKind(ctx, kind)
		})
	}
	return g.Wait()
}

// SyncKind replays kind's queue in order. Acknowledged actions are cleared
// as a prefix; on the first failure the drain halts, leaving the failed
// action and all of its successors in place for the next trigger.
func (c *Coordinator) SyncKind(ctx context.Context, kind string) error {
	conf, ok := drained[kind]
	if !ok {
		return fmt.Errorf("unknown action kind %q", kind)
	}

	pending, err := c.log.PendingActions(kind)
	if err != nil {
		return fmt.Errorf("loading %s queue: %w", kind, err)
	}
	if len(pending) == 0 {
		return nil
	}

	var lastAcked int64
	for _, a := range pending {
		if err := c.replay.Replay(ctx, a); err != nil {
			if lastAcked > 0 {
				if clearErr := c.log.ClearActionsThrough(kind, lastAcked); clearErr != nil {
					c.logger.Error("clearing acknowledged actions failed", "kind", kind, "error", clearErr)
				}
			}
			c.logger.Warn("sync halted", "kind", kind, "action", a.ID, "error", err)
			return &ReplayError{Kind: kind, ActionID: a.ID, Err: err}
		}
		lastAcked = a.Seq
	}

	if err := c.log.ClearActionsThrough(kind, lastAcked); err != nil {
		return fmt.Errorf("clearing %s queue: %w", kind, err)
	}
	c.logger.Info("queue drained", "kind", kind, "count", len(pending))

	if c.notifier != nil {
		d := notify.Defaults()
		d.Tag = conf.tag
		d.Title = conf.title
		d.Body = conf.body
		if err := c.notifier.Show(ctx, d); err != nil {
			c.logger.Warn("sync confirmation not shown", "kind", kind, "error", err)
		}
	}
	return nil
}
