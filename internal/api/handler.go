package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mufcstore/matchday/internal/cachestore"
	"github.com/mufcstore/matchday/internal/lifecycle"
	"github.com/mufcstore/matchday/internal/syncqueue"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Store      *cachestore.Store
	Gateway    *Gateway
	Controller *lifecycle.Controller
	Coord      *syncqueue.Coordinator
	Push       *PushDeps
	AdminToken string // empty disables auth on /internal
}

// NewHandler builds the router: explicit endpoints first, everything else
// falls through to the caching gateway.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Post("/api/push/subscribe", handleSubscribe(deps))
	r.Post("/api/push/send", handlePushSend(deps))
	r.Post("/api/push/receive", handlePushReceive(deps))
	r.Post("/api/push/click", handlePushClick(deps))
	r.Post("/api/push/close", handlePushClose(deps))
	r.Post("/api/analytics/notification-dismissed", handleDismissed(deps))

	r.Route("/internal", func(r chi.Router) {
		if deps.AdminToken != "" {
			r.Use(BearerAuth(deps.AdminToken))
		}
		r.Post("/online", handleOnline(deps))
		r.Post("/actions", handleEnqueueAction(deps))
		r.Get("/actions", handleListActions(deps))
		r.Post("/sync/{tag}", handleSyncTag(deps))
		r.Post("/caches/clear", handleCachesClear(deps))
		r.Post("/clients/connect", handleClientConnect(deps))
		r.Post("/clients/disconnect", handleClientDisconnect(deps))
	})

	r.NotFound(deps.Gateway.ServeHTTP)
	r.MethodNotAllowed(deps.Gateway.ServeHTTP)

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if v := deps.Controller.Active(); v != nil {
			status["version"] = v.Version
			status["state"] = v.State().String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func handleOnline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := deps.Gateway.Active()
		if active == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no active worker version")
			return
		}
		if err := active.OnOnline(r.Context()); err != nil {
			var re *syncqueue.ReplayError
			if errors.As(err, &re) {
				httpError(w, http.StatusBadGateway, "sync_error", "queue %s halted at action %s: %v", re.Kind, re.ActionID, re.Err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "sync failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "synced"})
	}
}

func handleSyncTag(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := deps.Gateway.Active()
		if active == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no active worker version")
			return
		}
		tag := chi.URLParam(r, "tag")
		if err := active.OnSync(r.Context(), tag); err != nil {
			httpError(w, http.StatusBadGateway, "sync_error", "sync tag %s: %v", tag, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "synced", "tag": tag})
	}
}

type enqueueRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func handleEnqueueAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		a, err := deps.Coord.Enqueue(req.Kind, req.Payload)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": a.ID, "status": "queued"})
	}
}

func handleListActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending := make(map[string]int, len(syncqueue.Kinds))
		for _, kind := range syncqueue.Kinds {
			n, err := deps.Store.ActionCount(kind)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "counting %s actions: %v", kind, err)
				return
			}
			pending[kind] = n
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"pending": pending})
	}
}

func handleCachesClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Store.Names()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing partitions: %v", err)
			return
		}
		for _, name := range names {
			if err := deps.Store.Delete(name); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "deleting partition %s: %v", name, err)
				return
			}
		}
		slog.Info("cleared all cache partitions", "count", len(names))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "cleared", "partitions": len(names)})
	}
}

type clientRequest struct {
	ID string `json:"id"`
}

func decodeClientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "client id is required")
		return "", false
	}
	return req.ID, true
}

// handleClientConnect registers an open client session. Bare notification
// clicks focus a connected session instead of opening a new window.
func handleClientConnect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeClientID(w, r)
		if !ok {
			return
		}
		deps.Push.Center.Connect(id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "connected", "id": id})
	}
}

func handleClientDisconnect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeClientID(w, r)
		if !ok {
			return
		}
		deps.Push.Center.Disconnect(id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "disconnected", "id": id})
	}
}

func handleDismissed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var record map[string]any
		// Dismissal analytics are advisory; malformed records are dropped.
		if err := json.NewDecoder(r.Body).Decode(&record); err == nil {
			slog.Debug("notification dismissed", "record", record)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
