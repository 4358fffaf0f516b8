package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mufcstore/matchday/internal/cachestore"
)

// Snapshots larger than this are not cached or served; the storefront has
// no legitimate response anywhere near this size.
const maxSnapshotSize = 10 << 20 // 10MB

// OriginFetcher resolves intercepted requests against the storefront
// origin. Cross-origin requests (trusted image hosts) go to their own host
// unchanged.
type OriginFetcher struct {
	base   *url.URL
	client *http.Client
}

// NewOriginFetcher creates a fetcher for the given origin base URL.
// If client is nil, http.DefaultClient is used.
func NewOriginFetcher(base string, client *http.Client) (*OriginFetcher, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing origin url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OriginFetcher{base: u, client: client}, nil
}

// Fetch performs the network leg and snapshots the response.
func (f *OriginFetcher) Fetch(ctx context.Context, req *http.Request) (cachestore.Entry, error) {
	target := *req.URL
	if target.Host == "" {
		target.Scheme = f.base.Scheme
		target.Host = f.base.Host
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return cachestore.Entry{}, fmt.Errorf("building origin request: %w", err)
	}
	copyHeaders(out.Header, req.Header)

	resp, err := f.client.Do(out)
	if err != nil {
		return cachestore.Entry{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize+1))
	if err != nil {
		return cachestore.Entry{}, fmt.Errorf("reading origin response: %w", err)
	}
	if len(body) > maxSnapshotSize {
		return cachestore.Entry{}, fmt.Errorf("origin response for %s exceeds %d bytes", Key(req), maxSnapshotSize)
	}

	return cachestore.Entry{
		URL:    Key(req),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vals := range src {
		// Hop-by-hop headers stay on the inbound connection.
		switch http.CanonicalHeaderKey(k) {
		case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade":
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
