package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives finalized records for durable storage.
type Sink interface {
	Put(ctx context.Context, rec *Record) error
}

// Hook is invoked synchronously once per finalized record, before the
// record is queued for storage. Hook panics are recovered and logged.
type Hook func(rec *Record)

// Auditor is the engine instance: it wraps units of work, finalizes
// records and writes them out asynchronously. Writes are fire-and-forget
// from the instrumented action's perspective — a full queue or a failing
// sink degrades to the fallback (or a log line), never to a failed action.
type Auditor struct {
	sink     Sink
	fallback Sink

	hookMu sync.RWMutex
	hooks  []Hook

	level atomic.Value // Level

	ch     chan *Record
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	putTimeout time.Duration
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLevel sets the default verbosity for newly created records.
func WithLevel(l Level) Option {
	return func(a *Auditor) {
		if l.valid() {
			a.level.Store(l)
		}
	}
}

// WithQueueSize bounds the async write queue.
func WithQueueSize(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.ch = make(chan *Record, n)
		}
	}
}

// WithFallback sets the degraded sink used when the primary write queue
// overflows or the primary sink fails.
func WithFallback(s Sink) Option {
	return func(a *Auditor) { a.fallback = s }
}

// New creates an Auditor writing to sink and starts its flush loop.
// A nil sink is allowed; records then go to the fallback, or to the log
// when no fallback is set either.
func New(sink Sink, opts ...Option) *Auditor {
	a := &Auditor{
		sink:       sink,
		ch:         make(chan *Record, 256),
		done:       make(chan struct{}),
		putTimeout: 5 * time.Second,
	}
	a.level.Store(LevelStandard)
	for _, opt := range opts {
		opt(a)
	}
	go a.flushLoop()
	return a
}

// Level returns the current default audit level.
func (a *Auditor) Level() Level {
	return a.level.Load().(Level)
}

// SetLevel changes the default audit level at runtime. Invalid levels are
// ignored. Records already open keep the level they were created with.
func (a *Auditor) SetLevel(l Level) {
	if l.valid() {
		a.level.Store(l)
	}
}

// AddHook registers fn to run synchronously for every finalized record.
func (a *Auditor) AddHook(fn Hook) {
	a.hookMu.Lock()
	a.hooks = append(a.hooks, fn)
	a.hookMu.Unlock()
}

// Close stops accepting records and drains the write queue.
func (a *Auditor) Close() error {
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
		<-a.done
	})
	return nil
}

// submit runs the hooks and queues the finalized record for storage.
func (a *Auditor) submit(rec *Record) {
	a.runHooks(rec)

	if a.closed.Load() {
		a.writeFallback(rec)
		return
	}
	select {
	case a.ch <- rec:
	default:
		slog.Warn("audit queue full, degrading to fallback",
			"record_id", rec.RecordID, "action", rec.ActionName)
		a.writeFallback(rec)
	}
}

func (a *Auditor) runHooks(rec *Record) {
	a.hookMu.RLock()
	hooks := a.hooks
	a.hookMu.RUnlock()
	for _, h := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("audit hook panicked", "panic", p, "record_id", rec.RecordID)
				}
			}()
			h(rec)
		}()
	}
}

func (a *Auditor) flushLoop() {
	defer close(a.done)
	for rec := range a.ch {
		a.write(rec)
	}
}

func (a *Auditor) write(rec *Record) {
	if a.sink == nil {
		a.writeFallback(rec)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.putTimeout)
	defer cancel()
	if err := a.sink.Put(ctx, rec); err != nil {
		slog.Error("audit write failed", "error", err,
			"record_id", rec.RecordID, "action", rec.ActionName)
		a.writeFallback(rec)
	}
}

// writeFallback degrades to the secondary sink, or to a structured log
// line when none is configured. Failures here are terminal: the record is
// dropped (at-most-once, best-effort durability).
func (a *Auditor) writeFallback(rec *Record) {
	if a.fallback == nil {
		slog.Info("audit record (log-only)",
			"record_id", rec.RecordID,
			"task_id", rec.TaskID,
			"agent", rec.AgentName,
			"action", rec.ActionName,
			"success", rec.Success,
			"duration_ms", rec.DurationMs,
			"error", rec.ErrorMessage)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.putTimeout)
	defer cancel()
	if err := a.fallback.Put(ctx, rec); err != nil {
		slog.Error("audit fallback write failed, dropping record",
			"error", err, "record_id", rec.RecordID)
	}
}
