package explain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

var taskStart = time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

// taskFixture is three agents over five actions, one failing with a
// timeout, with reasoning that references earlier work.
func taskFixture() []*audit.Record {
	tokens := func(n int) *int { return &n }
	return []*audit.Record{
		{
			RecordID: "r1", TaskID: "task-1", AgentID: "researcher-1", AgentName: "Researcher",
			ActionType: "research", ActionName: "gather_sources",
			Timestamp: taskStart, DurationMs: 400, Success: true,
			Reasoning:  "Decided to query the primary index first.",
			Outputs:    `"found 12 candidate sources in the primary index"`,
			TokensUsed: tokens(200), ModelCalls: 1,
			ToolsUsed: []audit.ToolUse{
				{Tool: "http_fetch", Input: "https://example.org/index", Output: "200 OK"},
			},
		},
		{
			RecordID: "r2", TaskID: "task-1", AgentID: "researcher-1", AgentName: "Researcher",
			ActionType: "research", ActionName: "rank_sources",
			Timestamp: taskStart.Add(500 * time.Millisecond), DurationMs: 200, Success: true,
			Inputs:  `{"sources": "found 12 candidate sources in the primary index"}`,
			Outputs: `"top 3 sources selected by relevance score"`,
		},
		{
			RecordID: "r3", TaskID: "task-1", AgentID: "analyst-1", AgentName: "Analyst",
			ActionType: "analysis", ActionName: "summarize",
			Timestamp: taskStart.Add(time.Second), DurationMs: 1500, Success: true,
			Reasoning:  "Based on the Researcher ranking, chose to summarize the top 3 sources only.",
			Inputs:     `{"ranked": "top 3 sources selected by relevance score"}`,
			Outputs:    `"summary covering the top 3 sources"`,
			TokensUsed: tokens(800), ModelCalls: 2,
		},
		{
			RecordID: "r4", TaskID: "task-1", AgentID: "critic-1", AgentName: "Critic",
			ActionType: "review", ActionName: "verify_claims",
			Timestamp: taskStart.Add(1200 * time.Millisecond), DurationMs: 300, Success: false,
			ErrorMessage: "Request timeout while contacting the verification service",
		},
		{
			RecordID: "r5", TaskID: "task-1", AgentID: "analyst-1", AgentName: "Analyst",
			ActionType: "analysis", ActionName: "finalize",
			Timestamp: taskStart.Add(3 * time.Second), DurationMs: 100, Success: true,
			Outputs: `"final report assembled"`,
		},
	}
}

func TestExplainNoRecords(t *testing.T) {
	_, err := Explain("task-x", nil)
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("err = %v, want ErrNoRecords", err)
	}
}

func TestExplainSummary(t *testing.T) {
	report, err := Explain("task-1", taskFixture())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	s := report.Summary

	if s.TotalActions != 5 || s.SuccessfulActions != 4 || s.FailedActions != 1 {
		t.Errorf("counts = %d/%d/%d", s.TotalActions, s.SuccessfulActions, s.FailedActions)
	}
	if s.SuccessRate != 80.0 {
		t.Errorf("success rate = %v, want 80", s.SuccessRate)
	}
	wantAgents := []string{"Analyst", "Critic", "Researcher"}
	if len(s.Agents) != 3 {
		t.Fatalf("agents = %v", s.Agents)
	}
	for i, name := range wantAgents {
		if s.Agents[i] != name {
			t.Errorf("agents[%d] = %s, want %s", i, s.Agents[i], name)
		}
	}
	if s.TotalTokens != 1000 || s.TotalModelCalls != 3 {
		t.Errorf("tokens/calls = %d/%d", s.TotalTokens, s.TotalModelCalls)
	}
	// The span ends with r5: 3000ms after start plus its 100ms duration.
	if s.WallClockMs != 3100 {
		t.Errorf("wall clock = %d, want 3100", s.WallClockMs)
	}
	if s.StartedAt != "2026-06-02T10:00:00Z" {
		t.Errorf("started at = %s", s.StartedAt)
	}
}

func TestExplainTimeline(t *testing.T) {
	report, err := Explain("task-1", taskFixture())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(report.Timeline) != 5 {
		t.Fatalf("timeline has %d entries", len(report.Timeline))
	}
	for i, want := range []string{"r1", "r2", "r3", "r4", "r5"} {
		if report.Timeline[i].RecordID != want {
			t.Errorf("timeline[%d] = %s, want %s", i, report.Timeline[i].RecordID, want)
		}
	}
	first := report.Timeline[0]
	if first.AgentName != "Researcher" || !first.Success {
		t.Errorf("first entry = %+v", first)
	}
	if len(first.Tools) != 1 || first.Tools[0] != "http_fetch" {
		t.Errorf("first entry tools = %v", first.Tools)
	}
}

func TestExplainContributions(t *testing.T) {
	report, err := Explain("task-1", taskFixture())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(report.AgentContributions) != 3 {
		t.Fatalf("contributions for %d agents, want 3", len(report.AgentContributions))
	}
	r := report.AgentContributions["Researcher"]
	if r == nil || r.Actions != 2 || r.Successful != 2 || r.Failed != 0 {
		t.Errorf("Researcher contribution = %+v", r)
	}
	if r.AvgDurationMs != 300 {
		t.Errorf("Researcher avg duration = %v, want 300", r.AvgDurationMs)
	}
	if len(r.Tools) != 1 || r.Tools[0] != "http_fetch" {
		t.Errorf("Researcher tools = %v", r.Tools)
	}
	if len(r.Outputs) != 2 {
		t.Errorf("Researcher output samples = %v", r.Outputs)
	}
	c := report.AgentContributions["Critic"]
	if c == nil || c.Failed != 1 || c.Successful != 0 {
		t.Errorf("Critic contribution = %+v", c)
	}
}

func TestExplainErrorAnalysis(t *testing.T) {
	report, err := Explain("task-1", taskFixture())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	ea := report.ErrorAnalysis
	if ea.ErrorCount != 1 {
		t.Fatalf("error count = %d", ea.ErrorCount)
	}
	if ea.ErrorRate != 20.0 {
		t.Errorf("error rate = %v, want 20", ea.ErrorRate)
	}
	if ea.ByType["timeout"] != 1 {
		t.Errorf("by type = %v, want one timeout", ea.ByType)
	}
	if len(ea.Timeline) != 1 || ea.Timeline[0].RecordID != "r4" || ea.Timeline[0].Type != "timeout" {
		t.Errorf("error timeline = %+v", ea.Timeline)
	}
}

func TestExplainReasoningChain(t *testing.T) {
	report, err := Explain("task-1", taskFixture())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}

	byID := map[string]CrossReference{}
	for _, xref := range report.ReasoningChain {
		byID[xref.RecordID] = xref
	}

	// r2's input embeds r1's output prefix.
	r2, ok := byID["r2"]
	if !ok {
		t.Fatal("no cross reference for r2")
	}
	if len(r2.DependsOn) != 1 || r2.DependsOn[0] != "r1" {
		t.Errorf("r2 depends on %v, want [r1]", r2.DependsOn)
	}

	// r3 mentions the Researcher by name, uses "based on", and its input
	// embeds r2's output.
	r3, ok := byID["r3"]
	if !ok {
		t.Fatal("no cross reference for r3")
	}
	if len(r3.Mentions) != 1 || r3.Mentions[0] != "Researcher" {
		t.Errorf("r3 mentions = %v", r3.Mentions)
	}
	if len(r3.Phrases) != 1 || r3.Phrases[0] != "based on" {
		t.Errorf("r3 phrases = %v", r3.Phrases)
	}
	if len(r3.DependsOn) != 1 || r3.DependsOn[0] != "r2" {
		t.Errorf("r3 depends on %v, want [r2]", r3.DependsOn)
	}
}

func TestExplainUnsortedInput(t *testing.T) {
	recs := taskFixture()
	// Reverse the input; the report must still be chronological.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	report, err := Explain("task-1", recs)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if report.Timeline[0].RecordID != "r1" || report.Timeline[4].RecordID != "r5" {
		t.Errorf("timeline order = %s..%s", report.Timeline[0].RecordID, report.Timeline[4].RecordID)
	}
}

type stubReader struct {
	recs []*audit.Record
	err  error
}

func (s *stubReader) ListByTask(_ context.Context, _ string) ([]*audit.Record, error) {
	return s.recs, s.err
}

func TestServiceGenerateTaskExplanation(t *testing.T) {
	svc := NewService(&stubReader{recs: taskFixture()})
	report, err := svc.GenerateTaskExplanation(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GenerateTaskExplanation: %v", err)
	}
	if report.TaskID != "task-1" {
		t.Errorf("task id = %s", report.TaskID)
	}

	svc = NewService(&stubReader{})
	if _, err := svc.GenerateTaskExplanation(context.Background(), "empty"); !errors.Is(err, ErrNoRecords) {
		t.Errorf("err = %v, want ErrNoRecords", err)
	}

	svc = NewService(&stubReader{err: errors.New("db closed")})
	if _, err := svc.GenerateTaskExplanation(context.Background(), "task-1"); err == nil {
		t.Error("reader error not propagated")
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip = %q", got)
	}
	if got := clip("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("clip = %q", got)
	}
}
