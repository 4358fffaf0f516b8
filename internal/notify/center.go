package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Center is the in-process notification surface: it records displayed
// notifications and tracks connected client sessions so click routing has
// something to focus or open. It implements both Notifier and ClientList.
type Center struct {
	mu          sync.Mutex
	shown       []Descriptor
	max         int
	clients     map[string]bool
	navigations []string
	logger      *slog.Logger
}

// NewCenter creates a Center retaining at most max displayed
// notifications.
func NewCenter(max int) *Center {
	if max <= 0 {
		max = 100
	}
	return &Center{
		max:     max,
		clients: make(map[string]bool),
		logger:  slog.Default(),
	}
}

// Show records the notification. Descriptors sharing a tag replace each
// other, matching host notification semantics.
func (c *Center) Show(ctx context.Context, d Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Tag != "" {
		for i, prev := range c.shown {
			if prev.Tag == d.Tag {
				c.shown = append(c.shown[:i], c.shown[i+1:]...)
				break
			}
		}
	}
	c.shown = append(c.shown, d)
	if len(c.shown) > c.max {
		c.shown = c.shown[len(c.shown)-c.max:]
	}
	c.logger.Info("notification shown", "title", d.Title, "tag", d.Tag)
	return nil
}

// Shown returns the retained notifications, oldest first.
func (c *Center) Shown() []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Descriptor, len(c.shown))
	copy(out, c.shown)
	return out
}

// Connect registers a client session.
func (c *Center) Connect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[id] = true
}

// Disconnect removes a client session.
func (c *Center) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, id)
}

// Focus reports whether an existing client session took focus.
func (c *Center) Focus(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients) > 0, nil
}

// OpenWindow records a navigation request to url.
func (c *Center) OpenWindow(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.navigations = append(c.navigations, url)
	c.logger.Info("opening window", "url", url)
	return nil
}

// Navigations returns the recorded navigation targets in order.
func (c *Center) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.navigations))
	copy(out, c.navigations)
	return out
}
