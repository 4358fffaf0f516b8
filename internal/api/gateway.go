// Package api exposes the HTTP surface: the caching gateway that fronts
// the storefront origin, the push endpoints, and the host-signal routes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"

	"github.com/mufcstore/matchday/internal/worker"
)

// Gateway routes intercepted traffic through the active worker version.
// Requests arriving before the first activation, and requests the worker
// declines, pass straight through to the origin.
type Gateway struct {
	active atomic.Pointer[worker.Worker]
	proxy  *httputil.ReverseProxy
}

// NewGateway creates a Gateway proxying unhandled traffic to origin.
func NewGateway(origin string) (*Gateway, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin url: %w", err)
	}
	return &Gateway{proxy: httputil.NewSingleHostReverseProxy(base)}, nil
}

// Claim switches live traffic to w. Safe to call while serving.
func (g *Gateway) Claim(w *worker.Worker) {
	g.active.Store(w)
}

// Active returns the worker currently claiming traffic, or nil.
func (g *Gateway) Active() *worker.Worker {
	return g.active.Load()
}

func (g *Gateway) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	active := g.active.Load()
	if active == nil {
		g.proxy.ServeHTTP(rw, r)
		return
	}

	entry, handled, err := active.Handle(r.Context(), r)
	if !handled {
		g.proxy.ServeHTTP(rw, r)
		return
	}
	if err != nil {
		httpError(rw, http.StatusBadGateway, "gateway_error", "origin unreachable and no cached copy: %v", err)
		return
	}
	entry.Write(rw)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
