// Package notify fans committed lifecycle events out to side channels
// such as metrics and connected MCP clients.
package notify

import "github.com/btouchard/switchboard/internal/lifecycle"

// Notifier receives committed lifecycle events.
type Notifier interface {
	Notify(event lifecycle.Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(lifecycle.Event)

// Notify calls f(event).
func (f NotifierFunc) Notify(event lifecycle.Event) { f(event) }

// Hub dispatches events to multiple notifiers.
type Hub struct {
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Notify sends an event to all registered notifiers.
// Each notifier runs on its own goroutine so a slow sink never delays the caller.
func (h *Hub) Notify(event lifecycle.Event) {
	for _, n := range h.notifiers {
		go n.Notify(event)
	}
}
