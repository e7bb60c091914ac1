// Package store persists finalized audit records and serves the reads the
// console and the explainability analyzer are built on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("audit record not found")

// Store is the capability set of an audit backend. Put must be safe to
// call concurrently from many in-flight actions.
type Store interface {
	Put(ctx context.Context, rec *audit.Record) error
	Get(ctx context.Context, recordID string) (*audit.Record, error)
	// ListByTask returns a task's records ordered by timestamp ascending.
	ListByTask(ctx context.Context, taskID string) ([]*audit.Record, error)
	// ListByAgent returns an agent's records, most recent first, bounded
	// by limit (limit <= 0 applies the default of 50).
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*audit.Record, error)
	// Statistics aggregates over the given time range; nil bounds mean
	// unbounded.
	Statistics(ctx context.Context, since, until *time.Time) (*Statistics, error)
}

// Statistics is the aggregate view over a time range.
type Statistics struct {
	TotalActions      int64                       `json:"total_actions"`
	SuccessfulActions int64                       `json:"successful_actions"`
	SuccessRate       float64                     `json:"success_rate"`
	AvgDurationMs     float64                     `json:"avg_duration_ms"`
	TotalTokens       int64                       `json:"total_tokens"`
	TotalModelCalls   int64                       `json:"total_model_calls"`
	ByAgent           map[string]*AgentStatistics `json:"by_agent"`
}

// AgentStatistics is the per-agent slice of Statistics, keyed by agent_id.
type AgentStatistics struct {
	AgentName     string  `json:"agent_name"`
	Actions       int64   `json:"actions"`
	Successful    int64   `json:"successful"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int64   `json:"total_tokens"`
}

const defaultAgentLimit = 50

// successRate computes K/N*100 with the N=0 case defined as 0.
func successRate(successes, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total) * 100
}
