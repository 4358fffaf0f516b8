package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier displays a notification to the user.
type Notifier interface {
	Show(ctx context.Context, d Descriptor) error
}

// ClientList abstracts the set of open client windows for click routing.
// Focus brings an existing window at the worker's scope to the front and
// reports whether one was found; OpenWindow opens a new one at url.
type ClientList interface {
	Focus(ctx context.Context) (bool, error)
	OpenWindow(ctx context.Context, url string) error
}

// Click is one user interaction with a displayed notification. Action is
// empty for a bare click on the notification body.
type Click struct {
	Action string
	Tag    string
	Data   Data
}

// Handler wires push receipt, display, and interaction routing together.
type Handler struct {
	notifier  Notifier
	clients   ClientList
	analytics *BestEffort
	logger    *slog.Logger
}

// NewHandler creates a push notification handler. analytics receives the
// dismissal records; it may not be nil.
func NewHandler(notifier Notifier, clients ClientList, analytics *BestEffort) *Handler {
	return &Handler{
		notifier:  notifier,
		clients:   clients,
		analytics: analytics,
		logger:    slog.Default(),
	}
}

// OnPush parses the raw payload and displays the merged descriptor.
func (h *Handler) OnPush(ctx context.Context, raw []byte) error {
	d := Parse(raw)
	if err := h.notifier.Show(ctx, d); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	h.logger.Info("push notification displayed", "title", d.Title, "tag", d.Tag)
	return nil
}

// OnClick routes a notification interaction. A known action id gets its
// specific behavior; a bare click focuses an open client window when one
// exists, otherwise opens a new window at the target URL.
func (h *Handler) OnClick(ctx context.Context, c Click) error {
	switch c.Action {
	case ActionExplore:
		url := c.Data.URL
		if url == "" {
			url = "/"
		}
		return h.clients.OpenWindow(ctx, url)
	case ActionClose:
		// Dismiss only.
		return nil
	default:
		focused, err := h.clients.Focus(ctx)
		if err != nil {
			return fmt.Errorf("focusing client: %w", err)
		}
		if focused {
			return nil
		}
		return h.clients.OpenWindow(ctx, "/")
	}
}

// OnClose records the dismissal for analytics. Best effort: a failed
// dispatch never surfaces anywhere.
func (h *Handler) OnClose(ctx context.Context, tag string) {
	h.analytics.Send(ctx, map[string]any{
		"tag":       tag,
		"timestamp": time.Now().UnixMilli(),
	})
}
