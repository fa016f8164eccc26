// Package handlers implements the MCP tool handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/lifecycle"
	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/store"
)

// Store is the read side the tools query.
type Store interface {
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	ListRequests(ctx context.Context, f store.RequestFilter) ([]model.Request, error)
	ListNotifications(ctx context.Context, f store.NotificationFilter) ([]model.Notification, int, error)
}

// Lifecycle performs the review transitions.
type Lifecycle interface {
	Approve(ctx context.Context, requestID string, actor model.Principal) (*model.Request, error)
	Reject(ctx context.Context, requestID string, actor model.Principal, message string) (*model.Request, error)
}

// adminFrom returns the calling admin, or a tool error result.
func adminFrom(ctx context.Context) (model.Principal, *mcp.CallToolResult) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return model.Principal{}, mcp.NewToolResultError("authentication required")
	}
	if !p.IsAdmin() {
		return model.Principal{}, mcp.NewToolResultError("admin access required")
	}
	return p, nil
}

func toolError(action string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: request not found", action))
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", action, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s", action, err))
	}
}

func statusIcon(s model.Status) string {
	switch s {
	case model.StatusPending:
		return "⏳"
	case model.StatusApproved:
		return "✅"
	case model.StatusRejected:
		return "❌"
	default:
		return "❓"
	}
}

func writeRequest(sb *strings.Builder, r model.Request) {
	fmt.Fprintf(sb, "%s **%s**: %s %s\n", statusIcon(r.Status), r.ID, r.Type, r.Status)
	if r.User != nil {
		fmt.Fprintf(sb, "  From: %s <%s>\n", r.User.Name, r.User.Email)
	}
	if r.Note != "" {
		fmt.Fprintf(sb, "  Note: %s\n", r.Note)
	}
	if r.Admin != nil {
		fmt.Fprintf(sb, "  Reviewed by: %s\n", r.Admin.Name)
	}
	if r.Message != "" {
		fmt.Fprintf(sb, "  Message: %s\n", r.Message)
	}
	fmt.Fprintf(sb, "  Created: %s\n", r.CreatedAt.Format("2006-01-02 15:04"))
}
