package explain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// ErrNoRecords distinguishes "task never existed / nothing happened yet"
// from an empty report.
var ErrNoRecords = errors.New("no audit records for task")

// Reader is the single read capability the analyzer needs. Any audit
// store satisfies it.
type Reader interface {
	ListByTask(ctx context.Context, taskID string) ([]*audit.Record, error)
}

// Service binds the pure analyzer to a record source.
type Service struct {
	reader Reader
}

func NewService(r Reader) *Service {
	return &Service{reader: r}
}

// GenerateTaskExplanation reads the task's records and builds the report.
// The read is a point-in-time snapshot; records written after it began
// are not included.
func (s *Service) GenerateTaskExplanation(ctx context.Context, taskID string) (*Report, error) {
	recs, err := s.reader.ListByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", taskID, err)
	}
	return Explain(taskID, recs)
}

// Explain builds the full report from one task's records. It is pure:
// same records in, same report out.
func Explain(taskID string, recs []*audit.Record) (*Report, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoRecords)
	}

	// Work on a copy sorted by start time; every sub-analysis assumes
	// chronological order.
	sorted := make([]*audit.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	r := &Report{
		TaskID:             taskID,
		Summary:            buildSummary(sorted),
		Timeline:           buildTimeline(sorted),
		AgentContributions: buildContributions(sorted),
		DecisionFlow:       buildDecisionFlow(sorted),
		ToolsAnalysis:      buildToolsAnalysis(sorted),
		PerformanceMetrics: buildPerformance(sorted),
		ErrorAnalysis:      buildErrorAnalysis(sorted),
		ReasoningChain:     buildReasoningChain(sorted),
	}
	r.Recommendations = buildRecommendations(sorted, r)
	return r, nil
}

func buildSummary(recs []*audit.Record) *Summary {
	s := &Summary{TotalActions: len(recs)}

	start := recs[0].Timestamp
	end := recs[0].Timestamp.Add(time.Duration(recs[0].DurationMs) * time.Millisecond)
	seen := make(map[string]bool)
	for _, rec := range recs {
		if rec.Success {
			s.SuccessfulActions++
		} else {
			s.FailedActions++
		}
		if !seen[rec.AgentName] {
			seen[rec.AgentName] = true
			s.Agents = append(s.Agents, rec.AgentName)
		}
		if fin := rec.Timestamp.Add(time.Duration(rec.DurationMs) * time.Millisecond); fin.After(end) {
			end = fin
		}
		if rec.TokensUsed != nil {
			s.TotalTokens += *rec.TokensUsed
		}
		s.TotalModelCalls += rec.ModelCalls
	}
	sort.Strings(s.Agents)

	s.SuccessRate = rate(s.SuccessfulActions, s.TotalActions)
	s.StartedAt = iso(start)
	s.FinishedAt = iso(end)
	s.WallClockMs = end.Sub(start).Milliseconds()
	return s
}

const timelineReasoningLimit = 200

func buildTimeline(recs []*audit.Record) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(recs))
	for _, rec := range recs {
		e := TimelineEntry{
			Timestamp:  iso(rec.Timestamp),
			RecordID:   rec.RecordID,
			AgentName:  rec.AgentName,
			ActionType: rec.ActionType,
			ActionName: rec.ActionName,
			DurationMs: rec.DurationMs,
			Success:    rec.Success,
			Reasoning:  clip(rec.Reasoning, timelineReasoningLimit),
		}
		for _, tu := range rec.ToolsUsed {
			e.Tools = appendUnique(e.Tools, tu.Tool)
		}
		timeline = append(timeline, e)
	}
	return timeline
}

const contributionOutputSamples = 3
const contributionOutputLimit = 150

func buildContributions(recs []*audit.Record) map[string]*AgentContribution {
	byAgent := make(map[string]*AgentContribution)
	durations := make(map[string]int64)
	for _, rec := range recs {
		c := byAgent[rec.AgentName]
		if c == nil {
			c = &AgentContribution{}
			byAgent[rec.AgentName] = c
		}
		c.Actions++
		if rec.Success {
			c.Successful++
		} else {
			c.Failed++
		}
		durations[rec.AgentName] += rec.DurationMs
		for _, tu := range rec.ToolsUsed {
			c.Tools = appendUnique(c.Tools, tu.Tool)
		}
		if rec.Outputs != "" && len(c.Outputs) < contributionOutputSamples {
			c.Outputs = append(c.Outputs, clip(rec.Outputs, contributionOutputLimit))
		}
	}
	for name, c := range byAgent {
		c.AvgDurationMs = float64(durations[name]) / float64(c.Actions)
	}
	return byAgent
}

// rate computes successes/total*100, with the empty case defined as 0.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// clip bounds s for report display without a truncation marker.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
