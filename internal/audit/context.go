package audit

import (
	"context"
	"time"
)

// recordKey is the context key for the open record of the current logical
// call context.
type recordKey struct{}

func openFrom(ctx context.Context) *openRecord {
	op, _ := ctx.Value(recordKey{}).(*openRecord)
	return op
}

// SetReasoning attaches free text explaining why the current action did
// what it did. No-op when ctx carries no open record or the record's
// level is minimal.
func SetReasoning(ctx context.Context, text string) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	limit := op.rec.Level.reasoningLimit()
	if limit == 0 {
		return
	}
	op.rec.Reasoning = truncate(text, limit)
}

// AddStep appends an intermediate step to the open record. Steps are
// append-only and capped by the record's level.
func AddStep(ctx context.Context, name string, data any) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	maxItems := op.rec.Level.listLimit()
	if maxItems == 0 || len(op.rec.Steps) >= maxItems {
		return
	}
	op.rec.Steps = append(op.rec.Steps, Step{
		Name:      name,
		Timestamp: time.Now(),
		Data:      snapshot(data, op.rec.Level.payloadLimit()),
	})
}

// AddToolUsage appends a tool invocation to the open record.
func AddToolUsage(ctx context.Context, tool string, input, output any) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	maxItems := op.rec.Level.listLimit()
	if maxItems == 0 || len(op.rec.ToolsUsed) >= maxItems {
		return
	}
	limit := op.rec.Level.payloadLimit()
	op.rec.ToolsUsed = append(op.rec.ToolsUsed, ToolUse{
		Tool:      tool,
		Timestamp: time.Now(),
		Input:     snapshot(input, limit),
		Output:    snapshot(output, limit),
	})
}

// AddContext stores a key/value pair in the open record's context bag.
func AddContext(ctx context.Context, key string, value any) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	maxItems := op.rec.Level.listLimit()
	if maxItems == 0 {
		return
	}
	if op.rec.Context == nil {
		op.rec.Context = make(map[string]any)
	}
	if _, exists := op.rec.Context[key]; !exists && len(op.rec.Context) >= maxItems {
		return
	}
	op.rec.Context[key] = value
}

// AddModelCall increments the model-call counter and, when tokens > 0,
// adds to the token total. Counters are kept at every level, including
// minimal.
func AddModelCall(ctx context.Context, tokens int) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	op.rec.ModelCalls++
	if tokens > 0 {
		if op.rec.TokensUsed == nil {
			op.rec.TokensUsed = new(int)
		}
		*op.rec.TokensUsed += tokens
	}
}

// SetMemoryUsage records the action's peak memory footprint in MB.
func SetMemoryUsage(ctx context.Context, mb float64) {
	op := openFrom(ctx)
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finalized {
		return
	}
	op.rec.MemoryUsedMB = &mb
}
