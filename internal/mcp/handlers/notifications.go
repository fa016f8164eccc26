package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/store"
)

// ListNotifications returns a handler that shows the admin feed.
func ListNotifications(s Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, res := adminFrom(ctx); res != nil {
			return res, nil
		}

		limit := 10
		if l, ok := req.GetArguments()["limit"].(float64); ok && l > 0 {
			limit = min(int(l), 100)
		}

		items, total, err := s.ListNotifications(ctx, store.NotificationFilter{
			RoleFor: model.RoleAdmin,
			Limit:   limit,
		})
		if err != nil {
			return toolError("list notifications", err), nil
		}
		if len(items) == 0 {
			return mcp.NewToolResultText("No notifications."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔔 Notifications (%d of %d)\n\n", len(items), total)
		for _, n := range items {
			fmt.Fprintf(&sb, "- %s %s", n.CreatedAt.Format("2006-01-02 15:04"), n.Message)
			if n.Request != nil {
				fmt.Fprintf(&sb, " [%s %s]", n.Request.ID, n.Request.Status)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
