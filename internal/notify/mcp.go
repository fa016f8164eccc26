package notify

import (
	"github.com/btouchard/switchboard/internal/lifecycle"
	"github.com/btouchard/switchboard/internal/model"
)

// MCPSender abstracts the mcp-go server broadcast method.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier pushes lifecycle events to connected MCP admin clients as
// notifications/message log entries.
type MCPNotifier struct {
	sender MCPSender
}

// NewMCPNotifier creates an MCPNotifier.
func NewMCPNotifier(sender MCPSender) *MCPNotifier {
	return &MCPNotifier{sender: sender}
}

// Notify broadcasts the event.
func (n *MCPNotifier) Notify(event lifecycle.Event) {
	level := "info"
	if event.Status == model.StatusRejected {
		level = "warning"
	}

	n.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  level,
		"logger": "switchboard",
		"data": map[string]any{
			"type":       eventType(event.Status),
			"request_id": event.RequestID,
			"kind":       string(event.Type),
			"actor_id":   event.ActorID,
		},
	})
}

func eventType(s model.Status) string {
	switch s {
	case model.StatusPending:
		return "request.submitted"
	case model.StatusApproved:
		return "request.approved"
	case model.StatusRejected:
		return "request.rejected"
	default:
		return "request.updated"
	}
}
