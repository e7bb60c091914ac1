package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDecodeResult carries the decoded request for an MCP tool call.
type MCPDecodeResult struct {
	Request any
}

// RegisterMCPTool registers tool on srv, bridging MCP's call envelope to
// an Endpoint: decode the arguments, invoke, JSON-encode the response.
// Endpoint errors become tool error results rather than protocol errors.
func RegisterMCPTool(srv *server.MCPServer, tool mcp.Tool, ep Endpoint,
	decode func(req mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, "mcp")

		decoded, err := decode(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := ep(ctx, decoded.Request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encoding tool result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}
