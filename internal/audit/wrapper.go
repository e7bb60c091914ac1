package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Action identifies one instrumented unit of work.
type Action struct {
	TaskID     string
	AgentID    string
	AgentName  string
	ActionType string
	ActionName string

	// Level overrides the auditor's default verbosity for this action.
	// The zero value means "use the auditor default".
	Level Level
}

// Func is a blocking unit of work. The context it receives carries the
// open record, so annotation calls made inside attach to this action.
type Func func(ctx context.Context) (any, error)

// openRecord is the correlation slot payload: the record currently open
// for one logical call context. It is owned exclusively by that context
// until finalized; the mutex only orders annotation calls against
// finalization (an action may annotate from short-lived helper
// goroutines it waits on).
type openRecord struct {
	mu        sync.Mutex
	rec       *Record
	finalized bool
}

// Execution is the handle for schedulable or suspending work. The caller
// keeps the context returned by Begin across suspension points and calls
// Finish exactly once when the work completes, fails or is cancelled.
type Execution struct {
	a  *Auditor
	op *openRecord
}

// Begin opens a record for act and returns a derived context carrying it.
// Nested Begin calls compose by construction: the child context shadows
// the parent's open record, and the parent context remains untouched for
// the rest of the parent's body.
func (a *Auditor) Begin(ctx context.Context, act Action, input any) (context.Context, *Execution) {
	level := act.Level
	if !level.valid() {
		level = a.Level()
	}
	op := &openRecord{rec: newRecord(act, level, input)}
	return context.WithValue(ctx, recordKey{}, op), &Execution{a: a, op: op}
}

// Finish finalizes the record: duration, outcome, output snapshot on
// success or error message plus stack trace on failure. The record is
// then handed to the hooks and the storage sink. Finish is idempotent;
// only the first call takes effect.
func (ex *Execution) Finish(output any, err error) {
	ex.op.mu.Lock()
	if ex.op.finalized {
		ex.op.mu.Unlock()
		return
	}
	ex.op.finalized = true
	rec := ex.op.rec
	rec.DurationMs = time.Since(rec.Timestamp).Milliseconds()
	if err != nil {
		rec.Success = false
		rec.ErrorMessage = err.Error()
		rec.ErrorTrace = string(debug.Stack())
	} else {
		rec.Success = true
		rec.Outputs = snapshot(output, rec.Level.payloadLimit())
		if output != nil {
			rec.OutputType = fmt.Sprintf("%T", output)
		}
	}
	ex.op.mu.Unlock()

	ex.a.submit(rec)
}

// RecordID returns the identifier of the execution's record.
func (ex *Execution) RecordID() string {
	return ex.op.rec.RecordID
}

// Run instruments a blocking unit of work. The original failure always
// reaches the caller unchanged: errors are returned as-is and panics are
// re-raised with their original value, in both cases after the record has
// been finalized as failed.
func (a *Auditor) Run(ctx context.Context, act Action, input any, fn Func) (out any, err error) {
	cctx, ex := a.Begin(ctx, act, input)
	defer func() {
		if p := recover(); p != nil {
			ex.Finish(nil, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()
	out, err = fn(cctx)
	ex.Finish(out, err)
	return out, err
}
