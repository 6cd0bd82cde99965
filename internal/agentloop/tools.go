package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ba-agent-core/internal/errors"
	"ba-agent-core/internal/memoryindex"
	"ba-agent-core/internal/sandbox"
	"ba-agent-core/pkg/types"
)

// Tool is one entry in the loop's dispatch table. Implementations never
// panic and never let a provider error escape uncaught - they turn it into
// a failed types.ToolExecutionResult, per the propagation policy C5 and C2
// errors are wrapped under.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, toolCallID string, args json.RawMessage) types.ToolExecutionResult
}

// Registry is a name-keyed table of tools, built once at process init.
type Registry map[string]Tool

func (r Registry) specs(allowed []string) []ToolSpec {
	allowSet := toSet(allowed)
	out := make([]ToolSpec, 0, len(r))
	for name, t := range r {
		if allowSet != nil && !allowSet[name] {
			continue
		}
		out = append(out, t.Spec())
	}
	return out
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// executeCodeTool binds the execute_code tool to C5.
type executeCodeTool struct {
	sandbox *sandbox.Executor
}

func (t *executeCodeTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "execute_code",
		Description: "Run a short Python snippet in an isolated container and return its stdout/stderr.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code":           map[string]interface{}{"type": "string"},
				"cache_policy":   map[string]interface{}{"type": "string", "enum": []string{"no_cache", "memoize_by_input"}},
				"timeout_seconds": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"code"},
		},
	}
}

type executeCodeArgs struct {
	Code           string `json:"code"`
	CachePolicy    string `json:"cache_policy"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *executeCodeTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) types.ToolExecutionResult {
	var a executeCodeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return badArgsResult(toolCallID, "execute_code", err)
	}
	limits := sandbox.Limits{TimeoutSeconds: a.TimeoutSeconds}
	policy := sandbox.CachePolicy(a.CachePolicy)
	if policy == "" {
		policy = sandbox.NoCache
	}
	return t.sandbox.ExecuteCode(ctx, toolCallID, a.Code, limits, policy)
}

// executeCommandTool binds the execute_command tool to C5.
type executeCommandTool struct {
	sandbox *sandbox.Executor
}

func (t *executeCommandTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "execute_command",
		Description: "Run an allow-listed shell command in an isolated container.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":      map[string]interface{}{"type": "string"},
				"cache_policy": map[string]interface{}{"type": "string", "enum": []string{"no_cache", "memoize_by_input"}},
			},
			"required": []string{"command"},
		},
	}
}

type executeCommandArgs struct {
	Command     string `json:"command"`
	CachePolicy string `json:"cache_policy"`
}

func (t *executeCommandTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) types.ToolExecutionResult {
	var a executeCommandArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return badArgsResult(toolCallID, "execute_command", err)
	}
	policy := sandbox.CachePolicy(a.CachePolicy)
	if policy == "" {
		policy = sandbox.NoCache
	}
	return t.sandbox.ExecuteCommand(ctx, toolCallID, a.Command, sandbox.Limits{}, policy)
}

// memorySearchTool binds the memory_search tool to C2.
type memorySearchTool struct {
	index *memoryindex.Index
}

func (t *memorySearchTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "memory_search",
		Description: "Search long-term memory (flushed conversation summaries and indexed files) for relevant context.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string"},
				"max_results": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"query"},
		},
	}
}

type memorySearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (t *memorySearchTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) types.ToolExecutionResult {
	start := time.Now()
	var a memorySearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return badArgsResult(toolCallID, "memory_search", err)
	}
	if t.index == nil {
		return types.ToolExecutionResult{
			ToolCallID: toolCallID, ToolName: "memory_search", Success: false,
			Observation: "memory index is not available", ErrorKind: string(errors.KindNotFound),
			OutputLevel: types.OutputStandard, DurationMS: time.Since(start).Milliseconds(),
		}
	}

	results, err := t.index.Search(ctx, a.Query, memoryindex.SearchOptions{K: a.MaxResults, UseHybrid: true})
	if err != nil {
		kind := errors.KindInternal
		var rtErr *errors.RuntimeError
		if re, ok := err.(*errors.RuntimeError); ok {
			rtErr = re
			kind = rtErr.Kind
		}
		return types.ToolExecutionResult{
			ToolCallID: toolCallID, ToolName: "memory_search", Success: false,
			Observation: err.Error(), ErrorKind: string(kind),
			OutputLevel: types.OutputStandard, DurationMS: time.Since(start).Milliseconds(),
		}
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s:%d-%d (score %.2f)\n%s\n\n", i+1, r.Chunk.Path, r.Chunk.StartLine, r.Chunk.EndLine, r.Score, r.Chunk.Text)
	}
	if len(results) == 0 {
		b.WriteString("no matching memory found")
	}

	return types.ToolExecutionResult{
		ToolCallID: toolCallID, ToolName: "memory_search", Success: true,
		Observation: b.String(), OutputLevel: types.OutputStandard,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// activateSkillTool is a built-in placeholder: skills themselves are an
// external collaborator, so this tool ignores its input and always returns
// an empty activation (no injected messages, no context modifier).
type activateSkillTool struct{}

func (t *activateSkillTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "activate_skill",
		Description: "Activate a named skill, injecting its instructions and tool permissions into the rest of this turn.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"skill_name": map[string]interface{}{"type": "string"}},
			"required":   []string{"skill_name"},
		},
	}
}

func (t *activateSkillTool) Execute(_ context.Context, toolCallID string, _ json.RawMessage) types.ToolExecutionResult {
	result := types.SkillActivationResult{}
	data, _ := json.Marshal(result)
	return types.ToolExecutionResult{
		ToolCallID:  toolCallID,
		ToolName:    "activate_skill",
		Success:     true,
		Observation: string(data),
		OutputLevel: types.OutputStandard,
	}
}

func badArgsResult(toolCallID, toolName string, err error) types.ToolExecutionResult {
	return types.ToolExecutionResult{
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		Success:     false,
		Observation: fmt.Sprintf("invalid arguments: %v", err),
		ErrorKind:   string(errors.KindBadInput),
		OutputLevel: types.OutputStandard,
	}
}

// NewRegistry builds the tool dispatch table with C5/C2 bound in. A nil
// index leaves memory_search registered but reporting unavailable.
func NewRegistry(exec *sandbox.Executor, index *memoryindex.Index) Registry {
	return Registry{
		"execute_code":    &executeCodeTool{sandbox: exec},
		"execute_command": &executeCommandTool{sandbox: exec},
		"memory_search":   &memorySearchTool{index: index},
		"activate_skill":  &activateSkillTool{},
	}
}
