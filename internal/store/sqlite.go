package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// SQLite is the reference durable backend. Timestamps are stored as unix
// microseconds; context, steps and tools are JSON columns.
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	record_id     TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	agent_id      TEXT NOT NULL,
	agent_name    TEXT NOT NULL,
	action_type   TEXT NOT NULL,
	action_name   TEXT NOT NULL,
	level         TEXT NOT NULL DEFAULT 'standard',
	timestamp     INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	error_trace   TEXT,
	inputs        TEXT,
	outputs       TEXT,
	output_type   TEXT,
	reasoning     TEXT,
	context       TEXT,
	steps         TEXT,
	tools_used    TEXT,
	tokens_used   INTEGER,
	model_calls   INTEGER NOT NULL DEFAULT 0,
	memory_mb     REAL,
	created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_records_task ON audit_records(task_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_agent ON audit_records(agent_id, timestamp);
`

// recordColumns is the standard SELECT column list for audit records.
const recordColumns = `record_id, task_id, agent_id, agent_name, action_type, action_name, level,
	timestamp, duration_ms, success, error_message, error_trace, inputs, outputs, output_type,
	reasoning, context, steps, tools_used, tokens_used, model_calls, memory_mb, created_at`

// OpenSQLite opens (creating if needed) the audit database at path.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}

	s := &SQLite{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating audit database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Put writes one finalized record. The created_at column is assigned by
// the database.
func (s *SQLite) Put(ctx context.Context, rec *audit.Record) error {
	ctxJSON, err := marshalOrNull(rec.Context)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	stepsJSON, err := marshalOrNull(rec.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}
	toolsJSON, err := marshalOrNull(rec.ToolsUsed)
	if err != nil {
		return fmt.Errorf("encoding tools: %w", err)
	}

	var tokens any
	if rec.TokensUsed != nil {
		tokens = *rec.TokensUsed
	}
	var memory any
	if rec.MemoryUsedMB != nil {
		memory = *rec.MemoryUsedMB
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (record_id, task_id, agent_id, agent_name, action_type, action_name,
			level, timestamp, duration_ms, success, error_message, error_trace, inputs, outputs,
			output_type, reasoning, context, steps, tools_used, tokens_used, model_calls, memory_mb)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RecordID, rec.TaskID, rec.AgentID, rec.AgentName, rec.ActionType, rec.ActionName,
		string(rec.Level), rec.Timestamp.UnixMicro(), rec.DurationMs, boolToInt(rec.Success),
		nullIfEmpty(rec.ErrorMessage), nullIfEmpty(rec.ErrorTrace), nullIfEmpty(rec.Inputs),
		nullIfEmpty(rec.Outputs), nullIfEmpty(rec.OutputType), nullIfEmpty(rec.Reasoning),
		ctxJSON, stepsJSON, toolsJSON, tokens, rec.ModelCalls, memory)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, recordID string) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE record_id = ?`, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit record: %w", err)
	}
	return rec, nil
}

func (s *SQLite) ListByTask(ctx context.Context, taskID string) ([]*audit.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE task_id = ? ORDER BY timestamp ASC, record_id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying task records: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

func (s *SQLite) ListByAgent(ctx context.Context, agentID string, limit int) ([]*audit.Record, error) {
	if limit <= 0 {
		limit = defaultAgentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE agent_id = ? ORDER BY timestamp DESC, record_id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent records: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

func (s *SQLite) Statistics(ctx context.Context, since, until *time.Time) (*Statistics, error) {
	where, args := timeRangeClause(since, until)

	stats := &Statistics{ByAgent: make(map[string]*AgentStatistics)}
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0),
			COALESCE(SUM(tokens_used), 0), COALESCE(SUM(model_calls), 0)
		FROM audit_records`+where, args...)
	if err := row.Scan(&stats.TotalActions, &stats.SuccessfulActions, &stats.AvgDurationMs,
		&stats.TotalTokens, &stats.TotalModelCalls); err != nil {
		return nil, fmt.Errorf("aggregating audit records: %w", err)
	}
	stats.SuccessRate = successRate(stats.SuccessfulActions, stats.TotalActions)

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, agent_name, COUNT(*), COALESCE(SUM(success), 0),
			COALESCE(AVG(duration_ms), 0), COALESCE(SUM(tokens_used), 0)
		FROM audit_records`+where+`
		GROUP BY agent_id, agent_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating per-agent: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var agentID string
		as := &AgentStatistics{}
		if err := rows.Scan(&agentID, &as.AgentName, &as.Actions, &as.Successful,
			&as.AvgDurationMs, &as.TotalTokens); err != nil {
			return nil, fmt.Errorf("scanning per-agent row: %w", err)
		}
		as.SuccessRate = successRate(as.Successful, as.Actions)
		stats.ByAgent[agentID] = as
	}
	return stats, rows.Err()
}

func timeRangeClause(since, until *time.Time) (string, []any) {
	var conds []string
	var args []any
	if since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, since.UnixMicro())
	}
	if until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, until.UnixMicro())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanRecordRows scans all rows into a slice. The rows must match
// recordColumns.
func scanRecordRows(rows *sql.Rows) ([]*audit.Record, error) {
	var results []*audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func scanRecord(s interface{ Scan(...any) error }) (*audit.Record, error) {
	rec := &audit.Record{}
	var level string
	var ts, createdAt int64
	var success int
	var errMsg, errTrace, inputs, outputs, outputType sql.NullString
	var reasoning, ctxJSON, stepsJSON, toolsJSON sql.NullString
	var tokens sql.NullInt64
	var memory sql.NullFloat64
	err := s.Scan(
		&rec.RecordID, &rec.TaskID, &rec.AgentID, &rec.AgentName, &rec.ActionType, &rec.ActionName,
		&level, &ts, &rec.DurationMs, &success, &errMsg, &errTrace, &inputs, &outputs, &outputType,
		&reasoning, &ctxJSON, &stepsJSON, &toolsJSON, &tokens, &rec.ModelCalls, &memory, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.Level = audit.Level(level)
	rec.Timestamp = time.UnixMicro(ts).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.Success = success != 0
	rec.ErrorMessage = errMsg.String
	rec.ErrorTrace = errTrace.String
	rec.Inputs = inputs.String
	rec.Outputs = outputs.String
	rec.OutputType = outputType.String
	rec.Reasoning = reasoning.String
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &rec.Context); err != nil {
			return nil, fmt.Errorf("decoding context: %w", err)
		}
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &rec.Steps); err != nil {
			return nil, fmt.Errorf("decoding steps: %w", err)
		}
	}
	if toolsJSON.Valid && toolsJSON.String != "" {
		if err := json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsUsed); err != nil {
			return nil, fmt.Errorf("decoding tools: %w", err)
		}
	}
	if tokens.Valid {
		t := int(tokens.Int64)
		rec.TokensUsed = &t
	}
	if memory.Valid {
		rec.MemoryUsedMB = &memory.Float64
	}
	return rec, nil
}

func marshalOrNull(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	case []audit.Step:
		if len(x) == 0 {
			return nil, nil
		}
	case []audit.ToolUse:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
