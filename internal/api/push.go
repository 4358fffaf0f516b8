package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mufcstore/matchday/internal/notify"
)

const maxPushBodySize = 64 << 10 // push payloads are small

// PushDeps bundles the push surface: the inbound handler, the notification
// center, and the client used to fan payloads out to subscriptions.
type PushDeps struct {
	Handler *notify.Handler
	Center  *notify.Center
	Client  *http.Client
}

type subscribeRequest struct {
	Endpoint string          `json:"endpoint"`
	Keys     json.RawMessage `json:"keys"`
}

func handleSubscribe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()

		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Endpoint == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "endpoint is required")
			return
		}

		sub, err := deps.Store.SaveSubscription(req.Endpoint, req.Keys)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving subscription: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": sub.ID, "status": "subscribed"})
	}
}

// handlePushSend fans the payload out to every stored subscription. A
// failed delivery is counted, never fatal to the batch; endpoints that
// report the subscription gone are dropped from the store.
func handlePushSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading payload: %v", err)
			return
		}

		subs, err := deps.Store.Subscriptions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing subscriptions: %v", err)
			return
		}

		sent, failed := 0, 0
		for _, sub := range subs {
			if err := deps.Push.deliver(r.Context(), sub.Endpoint, payload); err != nil {
				failed++
				if errors.Is(err, errSubscriptionGone) {
					_ = deps.Store.DeleteSubscription(sub.ID)
				}
				continue
			}
			sent++
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"sent": sent, "failed": failed})
	}
}

var errSubscriptionGone = errors.New("subscription gone")

func (p *PushDeps) deliver(ctx context.Context, endpoint string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return errSubscriptionGone
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(resp.Status)
	}
	return nil
}

func handlePushReceive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading payload: %v", err)
			return
		}
		if err := deps.Push.Handler.OnPush(r.Context(), raw); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "handling push: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "shown"})
	}
}

type clickRequest struct {
	Action string      `json:"action"`
	Tag    string      `json:"tag"`
	Data   notify.Data `json:"data"`
}

func handlePushClick(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()

		var req clickRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Push.Handler.OnClick(r.Context(), notify.Click{
			Action: req.Action,
			Tag:    req.Tag,
			Data:   req.Data,
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "handling click: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "handled"})
	}
}

func handlePushClose(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()

		var req struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		deps.Push.Handler.OnClose(r.Context(), req.Tag)
		w.WriteHeader(http.StatusNoContent)
	}
}
