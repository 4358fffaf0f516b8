package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mufcstore/matchday/internal/cachestore"
)

// OriginReplayer posts recorded actions back to the storefront origin:
// cart and wishlist mutations to /api/sync, queued orders to /api/orders.
type OriginReplayer struct {
	base   string
	client *http.Client
}

// NewOriginReplayer creates a replayer for the given origin base URL. If
// client is nil a 15s-timeout client is used.
func NewOriginReplayer(base string, client *http.Client) *OriginReplayer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OriginReplayer{
		base:   strings.TrimSuffix(base, "/"),
		client: client,
	}
}

// Replay applies one action. Non-2xx responses count as failures so a
// rejecting origin halts the drain instead of silently dropping the
// action.
func (r *OriginReplayer) Replay(ctx context.Context, a cachestore.Action) error {
	var path string
	var body any
	switch a.Kind {
	case KindOrder:
		path = "/api/orders"
		body = a.Payload
	default:
		path = "/api/sync"
		body = map[string]any{
			"id":         a.ID,
			"kind":       a.Kind,
			"payload":    a.Payload,
			"enqueuedAt": a.EnqueuedAt.UnixMilli(),
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("origin returned %d", resp.StatusCode)
	}
	return nil
}
