// Package mcp registers the audit console tools on an MCP server, giving
// MCP clients (typically the supervising agent runtime) read access to
// trails, statistics, and explanations over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/agenttrace/internal/audit"
	"github.com/hazyhaar/agenttrace/internal/explain"
	"github.com/hazyhaar/agenttrace/internal/store"
	"github.com/hazyhaar/agenttrace/pkg/kit"
)

// NewServer creates an MCPServer with all agenttrace tools registered.
func NewServer(st store.Store, auditor *audit.Auditor) *server.MCPServer {
	srv := server.NewMCPServer(
		"agenttrace",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	explainer := explain.NewService(st)

	registerAuditTrail(srv, st)
	registerAgentActions(srv, st)
	registerGetRecord(srv, st)
	registerStatistics(srv, st)
	registerExplainTask(srv, explainer)
	registerAuditLevel(srv, auditor)

	return srv
}

// --- audit_trail ---

func registerAuditTrail(srv *server.MCPServer, st store.Store) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]string{"type": "string", "description": "Task ID to retrieve the trail for"},
		},
		"required": []string{"task_id"},
	})
	tool := mcp.NewToolWithRawSchema("audit_trail", "Retrieve all audit records for a task in chronological order", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*auditTrailReq)
		recs, err := st.ListByTask(ctx, r.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": r.TaskID, "records": recs, "count": len(recs)}, nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &auditTrailReq{TaskID: stringArg(args, "task_id")}}, nil
	})
}

type auditTrailReq struct {
	TaskID string `json:"task_id"`
}

// --- agent_actions ---

func registerAgentActions(srv *server.MCPServer, st store.Store) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]string{"type": "string", "description": "Agent ID to list actions for"},
			"limit":    map[string]any{"type": "integer", "description": "Max records, most recent first", "default": 50},
		},
		"required": []string{"agent_id"},
	})
	tool := mcp.NewToolWithRawSchema("agent_actions", "List the most recent audit records for an agent", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*agentActionsReq)
		recs, err := st.ListByAgent(ctx, r.AgentID, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"agent_id": r.AgentID, "records": recs, "count": len(recs)}, nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &agentActionsReq{
			AgentID: stringArg(args, "agent_id"),
			Limit:   intArg(args, "limit", 50),
		}}, nil
	})
}

type agentActionsReq struct {
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit"`
}

// --- get_record ---

func registerGetRecord(srv *server.MCPServer, st store.Store) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"record_id": map[string]string{"type": "string", "description": "Record ID to retrieve"},
		},
		"required": []string{"record_id"},
	})
	tool := mcp.NewToolWithRawSchema("get_record", "Retrieve a single audit record by ID", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return st.Get(ctx, request.(*getRecordReq).RecordID)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &getRecordReq{RecordID: stringArg(args, "record_id")}}, nil
	})
}

type getRecordReq struct {
	RecordID string `json:"record_id"`
}

// --- audit_statistics ---

func registerStatistics(srv *server.MCPServer, st store.Store) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"start": map[string]string{"type": "string", "description": "RFC 3339 lower bound (inclusive), optional"},
			"end":   map[string]string{"type": "string", "description": "RFC 3339 upper bound (inclusive), optional"},
		},
	})
	tool := mcp.NewToolWithRawSchema("audit_statistics", "Aggregate success rates, durations, and token usage across all agents", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*statisticsReq)
		return st.Statistics(ctx, r.Start, r.End)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &statisticsReq{}
		var err error
		if r.Start, err = timeArg(args, "start"); err != nil {
			return nil, err
		}
		if r.End, err = timeArg(args, "end"); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type statisticsReq struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// --- explain_task ---

func registerExplainTask(srv *server.MCPServer, explainer *explain.Service) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]string{"type": "string", "description": "Task ID to explain"},
		},
		"required": []string{"task_id"},
	})
	tool := mcp.NewToolWithRawSchema("explain_task", "Generate a human-readable explanation report for a task: timeline, agent contributions, decisions, tool usage, performance, errors", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return explainer.GenerateTaskExplanation(ctx, request.(*explainTaskReq).TaskID)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &explainTaskReq{TaskID: stringArg(args, "task_id")}}, nil
	})
}

type explainTaskReq struct {
	TaskID string `json:"task_id"`
}

// --- set_audit_level ---

func registerAuditLevel(srv *server.MCPServer, auditor *audit.Auditor) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level": map[string]any{
				"type":        "string",
				"description": "Default verbosity for new records",
				"enum":        []string{"minimal", "standard", "detailed", "debug"},
			},
		},
		"required": []string{"level"},
	})
	tool := mcp.NewToolWithRawSchema("set_audit_level", "Change the default audit verbosity level at runtime", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*setLevelReq)
		level, err := audit.ParseLevel(r.Level)
		if err != nil {
			return nil, err
		}
		auditor.SetLevel(level)
		return map[string]string{"level": string(level)}, nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &setLevelReq{Level: stringArg(args, "level")}}, nil
	})
}

type setLevelReq struct {
	Level string `json:"level"`
}

// --- helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}

func timeArg(args map[string]any, key string) (*time.Time, error) {
	s, _ := args[key].(string)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
