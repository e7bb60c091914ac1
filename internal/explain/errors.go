package explain

import (
	"strings"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// errorClasses is the fixed taxonomy. Classification is case-insensitive
// substring matching, first match wins, in this order. Timeout is checked
// before cancelled so "context deadline exceeded" lands in timeout while
// "context canceled" lands in cancelled.
var errorClasses = []struct {
	class   string
	needles []string
}{
	{"timeout", []string{"timeout", "timed out", "deadline exceeded"}},
	{"cancelled", []string{"cancel"}},
	{"network", []string{"connection refused", "connection reset", "network", "no such host", "broken pipe", "dns"}},
	{"permission", []string{"permission denied", "unauthorized", "forbidden", "access denied"}},
	{"not_found", []string{"not found", "no such file", "does not exist", "404"}},
	{"rate_limit", []string{"rate limit", "too many requests", "429", "quota exceeded"}},
	{"memory", []string{"out of memory", "oom", "memory"}},
	{"validation", []string{"invalid", "validation", "malformed", "bad request"}},
}

// ClassifyError maps an error message onto the fixed taxonomy; unmatched
// messages classify as "other".
func ClassifyError(msg string) string {
	lower := strings.ToLower(msg)
	for _, ec := range errorClasses {
		for _, needle := range ec.needles {
			if strings.Contains(lower, needle) {
				return ec.class
			}
		}
	}
	return "other"
}

func buildErrorAnalysis(recs []*audit.Record) *ErrorAnalysis {
	ea := &ErrorAnalysis{ByType: make(map[string]int)}
	for _, rec := range recs {
		if rec.Success {
			continue
		}
		class := ClassifyError(rec.ErrorMessage)
		ea.ErrorCount++
		ea.ByType[class]++
		ea.Timeline = append(ea.Timeline, ErrorEvent{
			Timestamp:  iso(rec.Timestamp),
			RecordID:   rec.RecordID,
			AgentName:  rec.AgentName,
			ActionName: rec.ActionName,
			Type:       class,
			Message:    rec.ErrorMessage,
		})
	}
	ea.ErrorRate = rate(ea.ErrorCount, len(recs))
	return ea
}
