// Package notify handles inbound push payloads: parsing, display, and the
// routing of user interaction with the resulting notifications.
package notify

import (
	"encoding/json"
	"time"
)

// Action is one button on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// Stable action ids the click handler switches on.
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// Data is the descriptor's data bag: the navigation target plus arrival
// bookkeeping. URL is only ever used for navigation, never as a key.
type Data struct {
	URL           string `json:"url,omitempty"`
	DateOfArrival int64  `json:"dateOfArrival"`
	PrimaryKey    int    `json:"primaryKey"`
}

// Descriptor describes one notification for the duration of its display.
type Descriptor struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon"`
	Badge              string   `json:"badge"`
	Image              string   `json:"image"`
	Vibrate            []int    `json:"vibrate"`
	Tag                string   `json:"tag,omitempty"`
	Data               Data     `json:"data"`
	Actions            []Action `json:"actions"`
	RequireInteraction bool     `json:"requireInteraction"`
	Silent             bool     `json:"silent"`
}

// Defaults returns the fixed default descriptor push payloads are merged
// over.
func Defaults() Descriptor {
	return Descriptor{
		Title:   "MUFC Store",
		Body:    "You have a new notification",
		Icon:    "/icon-192x192.png",
		Badge:   "/badge-72x72.png",
		Image:   "/notification-image.png",
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: time.Now().UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "View", Icon: "/action-explore.png"},
			{Action: ActionClose, Title: "Close", Icon: "/action-close.png"},
		},
		RequireInteraction: false,
		Silent:             false,
	}
}

// Parse merges a raw push payload over the defaults. A payload that is not
// valid JSON is treated as plain text and becomes the body; parse failures
// are never fatal.
func Parse(raw []byte) Descriptor {
	d := Defaults()
	if len(raw) == 0 {
		return d
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		d = Defaults()
		d.Body = string(raw)
	}
	return d
}
