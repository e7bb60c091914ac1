// Package audit instruments units of work performed by agents inside a
// task. Each instrumented action produces one Record: who did what, when,
// how long it took, what it consumed, and why. Records are built while the
// action runs, finalized exactly once when it completes or fails, and then
// handed to a storage sink. Audit is strictly additive — nothing in this
// package may fail the business action it observes.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level controls how much narrative detail a record captures.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelStandard Level = "standard"
	LevelDetailed Level = "detailed"
	LevelDebug    Level = "debug"
)

// ParseLevel validates a level string from config, API or MCP input.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelMinimal, LevelStandard, LevelDetailed, LevelDebug:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown audit level %q", s)
}

func (l Level) valid() bool {
	_, err := ParseLevel(string(l))
	return err == nil
}

// payloadLimit bounds input/output/step/tool snapshots in bytes.
// Minimal keeps no payloads at all.
func (l Level) payloadLimit() int {
	switch l {
	case LevelMinimal:
		return 0
	case LevelDetailed:
		return 4096
	case LevelDebug:
		return 16384
	default:
		return 1024
	}
}

// reasoningLimit bounds the free-text reasoning field.
func (l Level) reasoningLimit() int {
	switch l {
	case LevelMinimal:
		return 0
	case LevelDetailed:
		return 8192
	case LevelDebug:
		return 32768
	default:
		return 2048
	}
}

// listLimit caps intermediate steps, tool usages and context entries.
func (l Level) listLimit() int {
	switch l {
	case LevelMinimal:
		return 0
	case LevelDetailed:
		return 100
	case LevelDebug:
		return 500
	default:
		return 25
	}
}

// Step is one intermediate step recorded from inside an action.
type Step struct {
	Name      string    `json:"step_name"`
	Timestamp time.Time `json:"timestamp"`
	Data      string    `json:"data,omitempty"`
}

// ToolUse is one tool invocation recorded from inside an action.
type ToolUse struct {
	Tool      string    `json:"tool_name"`
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
}

// Record describes a single instrumented agent action. A record is open
// (mutable through the annotation API, visible only to the call context
// that created it) until finalization; after that it is immutable.
type Record struct {
	RecordID   string `json:"record_id"`
	TaskID     string `json:"task_id"`
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	ActionType string `json:"action_type"`
	ActionName string `json:"action_name"`
	Level      Level  `json:"level"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorTrace   string `json:"error_trace,omitempty"`

	// Size-truncated textual snapshots, not full raw objects.
	Inputs     string `json:"inputs,omitempty"`
	Outputs    string `json:"outputs,omitempty"`
	OutputType string `json:"output_type,omitempty"`

	Reasoning string         `json:"reasoning,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Steps     []Step         `json:"intermediate_steps,omitempty"`
	ToolsUsed []ToolUse      `json:"tools_used,omitempty"`

	TokensUsed   *int     `json:"tokens_used,omitempty"`
	ModelCalls   int      `json:"model_calls"`
	MemoryUsedMB *float64 `json:"memory_used_mb,omitempty"`

	// CreatedAt is storage bookkeeping, assigned by the backend.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func newRecord(act Action, level Level, input any) *Record {
	return &Record{
		RecordID:   uuid.NewString(),
		TaskID:     act.TaskID,
		AgentID:    act.AgentID,
		AgentName:  act.AgentName,
		ActionType: act.ActionType,
		ActionName: act.ActionName,
		Level:      level,
		Timestamp:  time.Now(),
		Inputs:     snapshot(input, level.payloadLimit()),
	}
}

const truncationMarker = "...[truncated]"

// snapshot renders v as bounded JSON text. Values that do not marshal
// fall back to their fmt representation.
func snapshot(v any, limit int) string {
	if v == nil || limit <= 0 {
		return ""
	}
	var s string
	if b, err := json.Marshal(v); err == nil {
		s = string(b)
	} else {
		s = fmt.Sprintf("%v", v)
	}
	return truncate(s, limit)
}

// truncate cuts s at limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
