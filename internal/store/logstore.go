package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// LogStore is the degraded fallback backend: every record becomes one
// structured log line, and a bounded ring keeps the most recent records
// so reads still work best-effort while the durable backend is down.
// When the ring wraps, the oldest records are gone — callers get whatever
// is left, which is the documented contract of the fallback.
type LogStore struct {
	mu   sync.RWMutex
	ring []*audit.Record
	next int
	full bool
}

const defaultLogStoreCapacity = 1024

// NewLogStore creates a fallback store keeping up to capacity records in
// memory (<= 0 applies the default of 1024).
func NewLogStore(capacity int) *LogStore {
	if capacity <= 0 {
		capacity = defaultLogStoreCapacity
	}
	return &LogStore{ring: make([]*audit.Record, capacity)}
}

func (l *LogStore) Put(_ context.Context, rec *audit.Record) error {
	slog.Info("audit record",
		"record_id", rec.RecordID,
		"task_id", rec.TaskID,
		"agent", rec.AgentName,
		"action", rec.ActionName,
		"success", rec.Success,
		"duration_ms", rec.DurationMs,
		"error", rec.ErrorMessage)

	l.mu.Lock()
	l.ring[l.next] = rec
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return nil
}

func (l *LogStore) Get(_ context.Context, recordID string) (*audit.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.held() {
		if rec.RecordID == recordID {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (l *LogStore) ListByTask(_ context.Context, taskID string) ([]*audit.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*audit.Record
	for _, rec := range l.held() {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (l *LogStore) ListByAgent(_ context.Context, agentID string, limit int) ([]*audit.Record, error) {
	if limit <= 0 {
		limit = defaultAgentLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*audit.Record
	for _, rec := range l.held() {
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *LogStore) Statistics(_ context.Context, since, until *time.Time) (*Statistics, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Statistics{ByAgent: make(map[string]*AgentStatistics)}
	var totalDuration int64
	agentDurations := make(map[string]int64)

	for _, rec := range l.held() {
		if since != nil && rec.Timestamp.Before(*since) {
			continue
		}
		if until != nil && rec.Timestamp.After(*until) {
			continue
		}
		stats.TotalActions++
		if rec.Success {
			stats.SuccessfulActions++
		}
		totalDuration += rec.DurationMs
		if rec.TokensUsed != nil {
			stats.TotalTokens += int64(*rec.TokensUsed)
		}
		stats.TotalModelCalls += int64(rec.ModelCalls)

		as := stats.ByAgent[rec.AgentID]
		if as == nil {
			as = &AgentStatistics{AgentName: rec.AgentName}
			stats.ByAgent[rec.AgentID] = as
		}
		as.Actions++
		if rec.Success {
			as.Successful++
		}
		agentDurations[rec.AgentID] += rec.DurationMs
		if rec.TokensUsed != nil {
			as.TotalTokens += int64(*rec.TokensUsed)
		}
	}

	stats.SuccessRate = successRate(stats.SuccessfulActions, stats.TotalActions)
	if stats.TotalActions > 0 {
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.TotalActions)
	}
	for id, as := range stats.ByAgent {
		as.SuccessRate = successRate(as.Successful, as.Actions)
		as.AvgDurationMs = float64(agentDurations[id]) / float64(as.Actions)
	}
	return stats, nil
}

// held returns the live ring contents in insertion order. Callers must
// hold the mutex.
func (l *LogStore) held() []*audit.Record {
	if !l.full {
		return l.ring[:l.next]
	}
	out := make([]*audit.Record, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	out = append(out, l.ring[:l.next]...)
	return out
}
