package explain

import (
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

const toolSampleCount = 3
const toolSampleLimit = 120

func buildToolsAnalysis(recs []*audit.Record) map[string]*ToolAnalysis {
	byTool := make(map[string]*ToolAnalysis)
	successes := make(map[string]int)
	for _, rec := range recs {
		for _, tu := range rec.ToolsUsed {
			ta := byTool[tu.Tool]
			if ta == nil {
				ta = &ToolAnalysis{}
				byTool[tu.Tool] = ta
			}
			ta.Calls++
			// A tool call inherits the outcome of the action that made it.
			if rec.Success {
				successes[tu.Tool]++
			}
			ta.Agents = appendUnique(ta.Agents, rec.AgentName)
			if len(ta.Samples) < toolSampleCount {
				ta.Samples = append(ta.Samples, ToolSample{
					Input:  clip(tu.Input, toolSampleLimit),
					Output: clip(tu.Output, toolSampleLimit),
				})
			}
		}
	}
	for tool, ta := range byTool {
		ta.SuccessRate = rate(successes[tool], ta.Calls)
	}
	return byTool
}

func buildPerformance(recs []*audit.Record) *Performance {
	p := &Performance{MinDurationMs: recs[0].DurationMs}
	tokenActions := 0
	for _, rec := range recs {
		if rec.DurationMs < p.MinDurationMs {
			p.MinDurationMs = rec.DurationMs
		}
		if rec.DurationMs > p.MaxDurationMs {
			p.MaxDurationMs = rec.DurationMs
		}
		p.TotalDurationMs += rec.DurationMs
		if rec.TokensUsed != nil {
			p.TotalTokens += *rec.TokensUsed
			tokenActions++
		}
		if rec.MemoryUsedMB != nil && *rec.MemoryUsedMB > p.MaxMemoryMB {
			p.MaxMemoryMB = *rec.MemoryUsedMB
		}
	}
	p.AvgDurationMs = float64(p.TotalDurationMs) / float64(len(recs))
	if tokenActions > 0 {
		p.AvgTokens = float64(p.TotalTokens) / float64(tokenActions)
	}
	p.ParallelExecutionDetected = detectParallelism(recs)
	return p
}

// detectParallelism walks records sorted by start time and reports
// whether any record's [start, start+duration) interval overlaps the
// next record's start.
func detectParallelism(recs []*audit.Record) bool {
	sorted := make([]*audit.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	for i := 0; i+1 < len(sorted); i++ {
		end := sorted[i].Timestamp.Add(time.Duration(sorted[i].DurationMs) * time.Millisecond)
		if end.After(sorted[i+1].Timestamp) {
			return true
		}
	}
	return false
}

// Recommendation thresholds. All fixed; see the report documentation.
const (
	slowActionMs       = 5000
	errorRateThreshold = 10.0
	highTokenThreshold = 1000
	toolOveruseCalls   = 10
	sequentialFlagMin  = 10
)

func buildRecommendations(recs []*audit.Record, r *Report) []string {
	recommendations := []string{}

	var slowest *audit.Record
	slowCount := 0
	highTokenCount := 0
	for _, rec := range recs {
		if rec.DurationMs > slowActionMs {
			slowCount++
			if slowest == nil || rec.DurationMs > slowest.DurationMs {
				slowest = rec
			}
		}
		if rec.TokensUsed != nil && *rec.TokensUsed > highTokenThreshold {
			highTokenCount++
		}
	}
	if slowCount > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"%d action(s) exceeded %d ms (slowest: %q at %d ms); consider splitting them or running them concurrently",
			slowCount, slowActionMs, slowest.ActionName, slowest.DurationMs))
	}
	if r.ErrorAnalysis.ErrorRate > errorRateThreshold {
		recommendations = append(recommendations, fmt.Sprintf(
			"error rate is %.1f%% (%d of %d actions failed); investigate the failures before rerunning this task",
			r.ErrorAnalysis.ErrorRate, r.ErrorAnalysis.ErrorCount, len(recs)))
	}
	if highTokenCount > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"%d action(s) used more than %d tokens; consider tighter prompts or smaller contexts",
			highTokenCount, highTokenThreshold))
	}
	if len(recs) >= sequentialFlagMin && !r.PerformanceMetrics.ParallelExecutionDetected {
		recommendations = append(recommendations, fmt.Sprintf(
			"%d actions ran strictly sequentially; independent actions could run concurrently",
			len(recs)))
	}
	for _, entry := range sortedTools(r.ToolsAnalysis) {
		if entry.analysis.Calls > toolOveruseCalls {
			recommendations = append(recommendations, fmt.Sprintf(
				"tool %q was called %d times; consider batching or caching its results",
				entry.tool, entry.analysis.Calls))
		}
	}
	return recommendations
}

type toolEntry struct {
	tool     string
	analysis *ToolAnalysis
}

// sortedTools gives deterministic recommendation order over the tool map.
func sortedTools(tools map[string]*ToolAnalysis) []toolEntry {
	entries := make([]toolEntry, 0, len(tools))
	for tool, ta := range tools {
		entries = append(entries, toolEntry{tool: tool, analysis: ta})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tool < entries[j].tool })
	return entries
}
