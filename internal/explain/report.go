// Package explain derives a human-readable explanation of how a task was
// carried out from the task's full, time-ordered set of audit records.
// Everything here is read-only and pure: the analyzer never mutates
// records and never writes back. The text-mining parts (decision phrases,
// cross-references, dependency inference) are explicitly heuristic,
// best-effort signals — see decisions.go.
package explain

import "time"

// Report is the full explanation of one task.
type Report struct {
	TaskID             string                        `json:"task_id"`
	Summary            *Summary                      `json:"summary"`
	Timeline           []TimelineEntry               `json:"timeline"`
	AgentContributions map[string]*AgentContribution `json:"agent_contributions"`
	DecisionFlow       []DecisionPoint               `json:"decision_flow"`
	ToolsAnalysis      map[string]*ToolAnalysis      `json:"tools_analysis"`
	PerformanceMetrics *Performance                  `json:"performance_metrics"`
	ErrorAnalysis      *ErrorAnalysis                `json:"error_analysis"`
	ReasoningChain     []CrossReference              `json:"reasoning_chain"`
	Recommendations    []string                      `json:"recommendations"`
}

// Summary is the task-level headline: span, outcome ratio, participants,
// resource totals.
type Summary struct {
	TotalActions      int      `json:"total_actions"`
	SuccessfulActions int      `json:"successful_actions"`
	FailedActions     int      `json:"failed_actions"`
	SuccessRate       float64  `json:"success_rate"`
	Agents            []string `json:"agents"`
	StartedAt         string   `json:"started_at"`
	FinishedAt        string   `json:"finished_at"`
	WallClockMs       int64    `json:"wall_clock_ms"`
	TotalTokens       int      `json:"total_tokens"`
	TotalModelCalls   int      `json:"total_model_calls"`
}

// TimelineEntry is one action in chronological order, annotated with
// truncated reasoning and the tools it used.
type TimelineEntry struct {
	Timestamp  string   `json:"timestamp"`
	RecordID   string   `json:"record_id"`
	AgentName  string   `json:"agent_name"`
	ActionType string   `json:"action_type"`
	ActionName string   `json:"action_name"`
	DurationMs int64    `json:"duration_ms"`
	Success    bool     `json:"success"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Tools      []string `json:"tools,omitempty"`
}

// AgentContribution groups a task's actions by agent name.
type AgentContribution struct {
	Actions       int      `json:"actions"`
	Successful    int      `json:"successful"`
	Failed        int      `json:"failed"`
	AvgDurationMs float64  `json:"avg_duration_ms"`
	Tools         []string `json:"tools,omitempty"`
	Outputs       []string `json:"outputs,omitempty"`
}

// DecisionPoint carries the decision phrases extracted from one record.
type DecisionPoint struct {
	RecordID   string   `json:"record_id"`
	AgentName  string   `json:"agent_name"`
	ActionName string   `json:"action_name"`
	Timestamp  string   `json:"timestamp"`
	Decisions  []string `json:"decisions"`
}

// ToolAnalysis aggregates one tool's usage across the whole task.
type ToolAnalysis struct {
	Calls       int          `json:"calls"`
	Agents      []string     `json:"agents"`
	SuccessRate float64      `json:"success_rate"`
	Samples     []ToolSample `json:"samples,omitempty"`
}

// ToolSample is one example invocation kept for the report.
type ToolSample struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Performance is the duration/resource profile of the task.
type Performance struct {
	MinDurationMs             int64   `json:"min_duration_ms"`
	MaxDurationMs             int64   `json:"max_duration_ms"`
	AvgDurationMs             float64 `json:"avg_duration_ms"`
	TotalDurationMs           int64   `json:"total_duration_ms"`
	TotalTokens               int     `json:"total_tokens,omitempty"`
	AvgTokens                 float64 `json:"avg_tokens,omitempty"`
	MaxMemoryMB               float64 `json:"max_memory_mb,omitempty"`
	ParallelExecutionDetected bool    `json:"parallel_execution_detected"`
}

// ErrorAnalysis classifies a task's failures into the fixed taxonomy.
type ErrorAnalysis struct {
	ErrorCount int            `json:"error_count"`
	ErrorRate  float64        `json:"error_rate"`
	ByType     map[string]int `json:"by_type"`
	Timeline   []ErrorEvent   `json:"timeline"`
}

// ErrorEvent is one failure in chronological order.
type ErrorEvent struct {
	Timestamp  string `json:"timestamp"`
	RecordID   string `json:"record_id"`
	AgentName  string `json:"agent_name"`
	ActionName string `json:"action_name"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// CrossReference is the lightweight linkage signal for one record:
// which other agents its reasoning mentions, which linkage phrases it
// uses, and which prior records its inputs appear derived from.
type CrossReference struct {
	RecordID  string   `json:"record_id"`
	AgentName string   `json:"agent_name"`
	Mentions  []string `json:"mentions,omitempty"`
	Phrases   []string `json:"phrases,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// iso renders a timestamp the way every timestamp in a report is
// serialized: ISO-8601 / RFC 3339 with sub-second precision, UTC.
func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
