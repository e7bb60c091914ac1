package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id, taskID, agentID string, ts time.Time) *audit.Record {
	return &audit.Record{
		RecordID:   id,
		TaskID:     taskID,
		AgentID:    agentID,
		AgentName:  "Agent " + agentID,
		ActionType: "analysis",
		ActionName: "summarize",
		Level:      audit.LevelStandard,
		Timestamp:  ts,
		DurationMs: 120,
		Success:    true,
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tokens := 512
	memory := 42.5
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	rec := testRecord("rec-1", "task-1", "agent-1", ts)
	rec.ErrorMessage = ""
	rec.Inputs = `{"query":"sources"}`
	rec.Outputs = `"summary"`
	rec.OutputType = "string"
	rec.Reasoning = "Chose the shorter source list."
	rec.Context = map[string]any{"retries": float64(2)}
	rec.Steps = []audit.Step{{Name: "rank", Timestamp: ts, Data: `{"count":3}`}}
	rec.ToolsUsed = []audit.ToolUse{{Tool: "http_fetch", Timestamp: ts, Input: "url", Output: "200"}}
	rec.TokensUsed = &tokens
	rec.ModelCalls = 3
	rec.MemoryUsedMB = &memory

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TaskID != "task-1" || got.AgentID != "agent-1" || got.AgentName != "Agent agent-1" {
		t.Errorf("identity = %q/%q/%q", got.TaskID, got.AgentID, got.AgentName)
	}
	if !got.Timestamp.Equal(ts.Truncate(time.Microsecond)) {
		t.Errorf("timestamp = %v, want %v to microsecond precision", got.Timestamp, ts)
	}
	if got.DurationMs != 120 || !got.Success {
		t.Errorf("outcome = %d/%v", got.DurationMs, got.Success)
	}
	if got.Inputs != rec.Inputs || got.Outputs != rec.Outputs || got.OutputType != "string" {
		t.Errorf("payloads = %q/%q/%q", got.Inputs, got.Outputs, got.OutputType)
	}
	if got.Reasoning != rec.Reasoning {
		t.Errorf("reasoning = %q", got.Reasoning)
	}
	if got.Context["retries"] != float64(2) {
		t.Errorf("context = %v", got.Context)
	}
	if len(got.Steps) != 1 || got.Steps[0].Name != "rank" {
		t.Errorf("steps = %+v", got.Steps)
	}
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0].Tool != "http_fetch" {
		t.Errorf("tools = %+v", got.ToolsUsed)
	}
	if got.TokensUsed == nil || *got.TokensUsed != 512 {
		t.Errorf("tokens = %v", got.TokensUsed)
	}
	if got.ModelCalls != 3 {
		t.Errorf("model calls = %d", got.ModelCalls)
	}
	if got.MemoryUsedMB == nil || *got.MemoryUsedMB != 42.5 {
		t.Errorf("memory = %v", got.MemoryUsedMB)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not assigned by the backend")
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFailedRecordRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-err", "task-1", "agent-1", time.Now())
	rec.Success = false
	rec.ErrorMessage = "request timed out"
	rec.ErrorTrace = "goroutine 1 [running]:\nmain.main()"

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "rec-err")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Success {
		t.Error("failed record read back as success")
	}
	if got.ErrorMessage != "request timed out" || got.ErrorTrace == "" {
		t.Errorf("error fields = %q / %q", got.ErrorMessage, got.ErrorTrace)
	}
	if got.TokensUsed != nil || got.MemoryUsedMB != nil {
		t.Errorf("unset optionals came back non-nil: %v %v", got.TokensUsed, got.MemoryUsedMB)
	}
}

func TestListByTaskOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	// Insert out of order; the trail must come back chronological.
	for _, i := range []int{2, 0, 1} {
		rec := testRecord(string(rune('a'+i)), "task-1", "agent-1", base.Add(time.Duration(i)*time.Second))
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Put(ctx, testRecord("other", "task-2", "agent-1", base)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	recs, err := s.ListByTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if recs[i].RecordID != want {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].RecordID, want)
		}
	}

	// Reading a trail is idempotent.
	again, err := s.ListByTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListByTask again: %v", err)
	}
	if len(again) != 3 {
		t.Errorf("second read got %d records", len(again))
	}
}

func TestListByTaskEmpty(t *testing.T) {
	s := openTestStore(t)
	recs, err := s.ListByTask(context.Background(), "no-such-task")
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records for unknown task", len(recs))
	}
}

func TestListByAgentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		rec := testRecord(string(rune('a'+i)), "task-1", "agent-1", base.Add(time.Duration(i)*time.Second))
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	recs, err := s.ListByAgent(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Most recent first.
	if recs[0].RecordID != "e" || recs[1].RecordID != "d" {
		t.Errorf("order = %s, %s", recs[0].RecordID, recs[1].RecordID)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := 300
	for i := 0; i < 4; i++ {
		rec := testRecord(string(rune('a'+i)), "task-1", "agent-1", base.Add(time.Duration(i)*time.Minute))
		rec.DurationMs = 100
		rec.TokensUsed = &tokens
		rec.ModelCalls = 2
		if i == 3 {
			rec.Success = false
			rec.ErrorMessage = "boom"
		}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	other := testRecord("z", "task-2", "agent-2", base)
	other.DurationMs = 500
	if err := s.Put(ctx, other); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stats, err := s.Statistics(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalActions != 5 || stats.SuccessfulActions != 4 {
		t.Errorf("totals = %d/%d", stats.TotalActions, stats.SuccessfulActions)
	}
	if stats.SuccessRate != 80.0 {
		t.Errorf("success rate = %v, want 80", stats.SuccessRate)
	}
	if stats.AvgDurationMs != 180 {
		t.Errorf("avg duration = %v, want 180", stats.AvgDurationMs)
	}
	if stats.TotalTokens != 1200 || stats.TotalModelCalls != 8 {
		t.Errorf("tokens/calls = %d/%d", stats.TotalTokens, stats.TotalModelCalls)
	}
	a1 := stats.ByAgent["agent-1"]
	if a1 == nil || a1.Actions != 4 || a1.Successful != 3 || a1.SuccessRate != 75.0 {
		t.Errorf("agent-1 stats = %+v", a1)
	}
	if a2 := stats.ByAgent["agent-2"]; a2 == nil || a2.Actions != 1 || a2.SuccessRate != 100.0 {
		t.Errorf("agent-2 stats = %+v", a2)
	}
}

func TestStatisticsTimeRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testRecord(string(rune('a'+i)), "task-1", "agent-1", base.Add(time.Duration(i)*time.Hour))
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	stats, err := s.Statistics(ctx, &since, &until)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalActions != 1 {
		t.Errorf("windowed total = %d, want 1", stats.TotalActions)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	s := openTestStore(t)
	stats, err := s.Statistics(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalActions != 0 {
		t.Errorf("total = %d", stats.TotalActions)
	}
	// Success rate over zero actions is defined as zero, not NaN.
	if stats.SuccessRate != 0 {
		t.Errorf("success rate = %v, want 0", stats.SuccessRate)
	}
}
