package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// BestEffort posts JSON payloads to an endpoint and swallows every failure.
// Analytics must never affect core behavior; making the swallow explicit
// here keeps that intent visible and testable at one place instead of
// scattered try-catch sites.
type BestEffort struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewBestEffort creates a dispatcher for the given endpoint URL. If client
// is nil a short-timeout client is used.
func NewBestEffort(url string, client *http.Client) *BestEffort {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &BestEffort{
		url:    url,
		client: client,
		logger: slog.Default(),
	}
}

// Send posts payload as JSON. It never returns an error; failures are
// logged at debug level and dropped.
func (b *BestEffort) Send(ctx context.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Debug("analytics payload not encodable", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(data))
	if err != nil {
		b.logger.Debug("analytics request not buildable", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("analytics dispatch failed", "url", b.url, "error", err)
		return
	}
	resp.Body.Close()
}
