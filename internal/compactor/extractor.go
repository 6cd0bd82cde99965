package compactor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ba-agent-core/pkg/types"
)

// Extractor is the LLM collaborator that turns a buffered transcript into
// Retain-grammar lines. It is logically separate from
// the user-facing model, so the runtime does not hardcode a provider.
type Extractor interface {
	Extract(ctx context.Context, systemPrompt string, messages []types.Message) (string, error)
}

const retainSystemPrompt = `You extract durable facts from a conversation as Markdown lines in the
Retain grammar: "W @entity: content" (world fact), "B @entity: content"
(biographical), "O(c=0.8) @entity: content" (opinion, confidence in [0,1]),
"S @entity: content" (summary). Emit one fact per line, nothing else.`

// extractViaLLM adapts an Extractor into the parsed-records primary path.
func extractViaLLM(ctx context.Context, extractor Extractor, buffer []types.Message) ([]types.MemoryRecord, error) {
	raw, err := extractor.Extract(ctx, retainSystemPrompt, buffer)
	if err != nil {
		return nil, err
	}
	var records []types.MemoryRecord
	for _, line := range strings.Split(raw, "\n") {
		if rec, ok := types.ParseRetainLine(line); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Chinese and English heuristic cue-phrase patterns for the fallback path,
// since the host assistant may run in either locale. The cue-phrase and
// subject-copula patterns both resolve to a world fact, not a biographical
// one: "remember that X" and "X is Y" both describe something about the
// world, not a preference or trait of the user.
var (
	rememberCuesCN = regexp.MustCompile(`记住[:：]?\s*(.+)`)
	summaryCuesCN = regexp.MustCompile(`总结[：:]\s*(.+)`)
	rememberCuesEN = regexp.MustCompile(`(?i)remember that\s+(.+)`)
	summaryCuesEN = regexp.MustCompile(`(?i)in summary[,:]?\s+(.+)`)
	// subjectCopula matches "X 是 Y" (X is Y), a bare factual assertion.
	subjectCopula = regexp.MustCompile(`(.+?)是(.+?)(?:[.。]|$)`)
)

// extractViaHeuristics is the lossy, advisory fallback path used when the
// extractor errors or times out. It never fails the
// turn: a message matching no cue phrase simply contributes nothing.
func extractViaHeuristics(buffer []types.Message) []types.MemoryRecord {
	var records []types.MemoryRecord
	for _, msg := range buffer {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case types.RoleUser:
			if m := rememberCuesCN.FindStringSubmatch(content); m != nil {
				records = append(records, types.MemoryRecord{Kind: types.KindWorldFact, Content: strings.TrimSpace(m[1])})
				continue
			}
			if m := rememberCuesEN.FindStringSubmatch(content); m != nil {
				records = append(records, types.MemoryRecord{Kind: types.KindWorldFact, Content: strings.TrimSpace(m[1])})
				continue
			}
			if m := subjectCopula.FindStringSubmatch(content); m != nil {
				records = append(records, types.MemoryRecord{Kind: types.KindWorldFact, Content: strings.TrimSpace(m[0])})
				continue
			}
		case types.RoleAssistant:
			if m := summaryCuesCN.FindStringSubmatch(content); m != nil {
				records = append(records, types.MemoryRecord{Kind: types.KindSummary, Content: strings.TrimSpace(m[1])})
				continue
			}
			if m := summaryCuesEN.FindStringSubmatch(content); m != nil {
				records = append(records, types.MemoryRecord{Kind: types.KindSummary, Content: strings.TrimSpace(m[1])})
				continue
			}
		}
	}
	return records
}

// NoopExtractor always fails, forcing the fallback path; useful for tests
// and for deployments that have not wired a real extractor model yet.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string, []types.Message) (string, error) {
	return "", fmt.Errorf("no extractor configured")
}
