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

// ListRequests returns a handler that lists requests with optional filters.
func ListRequests(s Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, res := adminFrom(ctx); res != nil {
			return res, nil
		}
		args := req.GetArguments()

		filter := store.RequestFilter{Limit: 20}
		if status, ok := args["status"].(string); ok {
			filter.Status = model.Status(status)
		}
		if typ, ok := args["type"].(string); ok {
			filter.Type = model.RequestType(typ)
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		requests, err := s.ListRequests(ctx, filter)
		if err != nil {
			return toolError("list requests", err), nil
		}
		if len(requests) == 0 {
			return mcp.NewToolResultText("No requests found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Requests (%d found)\n\n", len(requests))
		for _, r := range requests {
			writeRequest(&sb, r)
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// GetRequest returns a handler that shows a single request.
func GetRequest(s Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, res := adminFrom(ctx); res != nil {
			return res, nil
		}
		id, _ := req.GetArguments()["request_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("request_id is required"), nil
		}

		r, err := s.GetRequest(ctx, id)
		if err != nil {
			return toolError("get request", err), nil
		}

		var sb strings.Builder
		writeRequest(&sb, *r)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// ApproveRequest returns a handler that approves a pending request.
func ApproveRequest(lc Lifecycle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		admin, res := adminFrom(ctx)
		if res != nil {
			return res, nil
		}
		id, _ := req.GetArguments()["request_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("request_id is required"), nil
		}

		r, err := lc.Approve(ctx, id, admin)
		if err != nil {
			return toolError("approve", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("✅ Request %s (%s) approved.", r.ID, r.Type)), nil
	}
}

// RejectRequest returns a handler that rejects a pending request.
func RejectRequest(lc Lifecycle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		admin, res := adminFrom(ctx)
		if res != nil {
			return res, nil
		}
		args := req.GetArguments()
		id, _ := args["request_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("request_id is required"), nil
		}
		message, _ := args["message"].(string)

		r, err := lc.Reject(ctx, id, admin, message)
		if err != nil {
			return toolError("reject", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("❌ Request %s (%s) rejected: %s", r.ID, r.Type, r.Message)), nil
	}
}
