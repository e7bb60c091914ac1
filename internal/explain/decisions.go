package explain

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/agenttrace/internal/audit"
)

// decisionPatterns is the documented pattern set for decision-phrase
// extraction. The extraction is lexical and best-effort: it finds these
// phrasings and nothing else, and makes no completeness claim beyond
// them. Each match is cut at the end of the clause.
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdecided to\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bdecided against\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bchose\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bchoosing\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bdetermined that\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bconcluded that\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bselected\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bopted (?:to|for)\b[^.!?\n;]*`),
	regexp.MustCompile(`(?i)\bwill (?:use|try|skip|retry)\b[^.!?\n;]*`),
}

const maxDecisionsPerRecord = 5
const maxDecisionLength = 160

// buildDecisionFlow extracts decision phrases from every record that
// carries reasoning or intermediate steps.
func buildDecisionFlow(recs []*audit.Record) []DecisionPoint {
	var flow []DecisionPoint
	for _, rec := range recs {
		if rec.Reasoning == "" && len(rec.Steps) == 0 {
			continue
		}
		texts := []string{rec.Reasoning}
		for _, step := range rec.Steps {
			texts = append(texts, step.Data)
		}
		decisions := extractDecisions(texts, maxDecisionsPerRecord)
		if len(decisions) == 0 {
			continue
		}
		flow = append(flow, DecisionPoint{
			RecordID:   rec.RecordID,
			AgentName:  rec.AgentName,
			ActionName: rec.ActionName,
			Timestamp:  iso(rec.Timestamp),
			Decisions:  decisions,
		})
	}
	return flow
}

func extractDecisions(texts []string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, pat := range decisionPatterns {
			for _, m := range pat.FindAllString(text, -1) {
				phrase := clip(strings.TrimSpace(m), maxDecisionLength)
				key := strings.ToLower(phrase)
				if phrase == "" || seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, phrase)
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// linkagePhrases are the generic cross-reference markers looked for in
// reasoning text.
var linkagePhrases = []string{"based on", "following", "as mentioned", "according to", "building on"}

// Dependency inference parameters: scan up to depWindow most recent prior
// records and flag a dependency when the first depPrefixLen characters of
// a prior record's output snapshot appear inside the current record's
// input snapshot. Outputs shorter than depMinOutput are too generic to
// count.
const (
	depWindow    = 5
	depPrefixLen = 40
	depMinOutput = 20
)

// buildReasoningChain produces the cross-reference entries: agent-name
// mentions and linkage phrasing from reasoning text, plus inferred
// payload dependencies. Records contributing no signal are omitted.
func buildReasoningChain(recs []*audit.Record) []CrossReference {
	agents := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, rec := range recs {
		if !seen[rec.AgentName] {
			seen[rec.AgentName] = true
			agents = append(agents, rec.AgentName)
		}
	}

	var chain []CrossReference
	for i, rec := range recs {
		xref := CrossReference{RecordID: rec.RecordID, AgentName: rec.AgentName}

		if rec.Reasoning != "" {
			lower := strings.ToLower(rec.Reasoning)
			for _, name := range agents {
				if name == rec.AgentName || len(name) < 3 {
					continue
				}
				if strings.Contains(lower, strings.ToLower(name)) {
					xref.Mentions = append(xref.Mentions, name)
				}
			}
			for _, phrase := range linkagePhrases {
				if strings.Contains(lower, phrase) {
					xref.Phrases = append(xref.Phrases, phrase)
				}
			}
		}

		xref.DependsOn = inferDependencies(recs, i)

		if len(xref.Mentions) > 0 || len(xref.Phrases) > 0 || len(xref.DependsOn) > 0 {
			chain = append(chain, xref)
		}
	}
	return chain
}

func inferDependencies(recs []*audit.Record, i int) []string {
	cur := recs[i]
	if cur.Inputs == "" {
		return nil
	}
	var deps []string
	for j := i - 1; j >= 0 && j >= i-depWindow; j-- {
		prior := recs[j]
		if len(prior.Outputs) < depMinOutput {
			continue
		}
		prefix := prior.Outputs
		if len(prefix) > depPrefixLen {
			prefix = prefix[:depPrefixLen]
		}
		if strings.Contains(cur.Inputs, prefix) {
			deps = append(deps, prior.RecordID)
		}
	}
	return deps
}
