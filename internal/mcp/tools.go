package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/switchboard/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// list_requests: Browse exchange requests
	s.AddTool(
		mcp.NewTool("list_requests",
			mcp.WithDescription("List exchange requests, newest first, with optional filters."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("pending", "approved", "rejected"),
			),
			mcp.WithString("type",
				mcp.Description("Filter by request type"),
				mcp.Enum("account", "upload", "download"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of requests to return (default: 20)"),
			),
		),
		handlers.ListRequests(deps.Store),
	)

	// get_request: Inspect one request
	s.AddTool(
		mcp.NewTool("get_request",
			mcp.WithDescription("Show one request with its requester and reviewing admin."),
			mcp.WithString("request_id",
				mcp.Required(),
				mcp.Description("The request ID"),
			),
		),
		handlers.GetRequest(deps.Store),
	)

	// approve_request: Approve a pending request
	s.AddTool(
		mcp.NewTool("approve_request",
			mcp.WithDescription("Approve a pending request. Approving an account request verifies the user. Connected admins and, for account requests, the user are notified live."),
			mcp.WithString("request_id",
				mcp.Required(),
				mcp.Description("The request ID to approve"),
			),
		),
		handlers.ApproveRequest(deps.Lifecycle),
	)

	// reject_request: Reject a pending request
	s.AddTool(
		mcp.NewTool("reject_request",
			mcp.WithDescription("Reject a pending request with an optional reason."),
			mcp.WithString("request_id",
				mcp.Required(),
				mcp.Description("The request ID to reject"),
			),
			mcp.WithString("message",
				mcp.Description("Reason shown to the requester (default: Not specified)"),
			),
		),
		handlers.RejectRequest(deps.Lifecycle),
	)

	// list_notifications: Admin notification feed
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the most recent admin notifications."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return (default: 10)"),
			),
		),
		handlers.ListNotifications(deps.Store),
	)
}
