package worker

import (
	"context"
	"fmt"
	"sort"
)

// Sync and periodic sync tags the platform may deliver.
const (
	TagCartSync       = "cart-sync"
	TagWishlistSync   = "wishlist-sync"
	TagOrderSync      = "order-sync"
	TagPriceUpdates   = "price-updates"
	TagInventoryCheck = "inventory-check"
)

// TagHandler handles one sync or periodic-sync tag.
type TagHandler func(ctx context.Context) error

// Registry maps tag strings to handlers. Construction validates the
// handler set against the known tags so a misspelled tag fails loudly at
// startup instead of silently doing nothing at dispatch time.
type Registry struct {
	handlers map[string]TagHandler
}

// NewRegistry builds a Registry. Every handler's tag must be one of the
// known tags, and every known tag must have a handler.
func NewRegistry(handlers map[string]TagHandler) (*Registry, error) {
	known := map[string]bool{
		TagCartSync:       true,
		TagWishlistSync:   true,
		TagOrderSync:      true,
		TagPriceUpdates:   true,
		TagInventoryCheck: true,
	}

	for tag := range handlers {
		if !known[tag] {
			return nil, fmt.Errorf("unknown sync tag %q", tag)
		}
	}
	var missing []string
	for tag := range known {
		if _, ok := handlers[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no handler registered for tags %v", missing)
	}

	return &Registry{handlers: handlers}, nil
}

// Dispatch runs the handler for tag. Unrecognized tags are an error.
func (r *Registry) Dispatch(ctx context.Context, tag string) error {
	h, ok := r.handlers[tag]
	if !ok {
		return fmt.Errorf("unknown sync tag %q", tag)
	}
	return h(ctx)
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
