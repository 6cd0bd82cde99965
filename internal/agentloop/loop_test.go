package agentloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/compactor"
	"ba-agent-core/internal/config"
	"ba-agent-core/pkg/types"
)

// scriptedChatClient replays a fixed sequence of responses, one per Chat
// call, so a test can script a multi-step tool-use exchange deterministically.
type scriptedChatClient struct {
	mu        sync.Mutex
	responses []ChatResponse
	calls     []ChatRequest
}

func (c *scriptedChatClient) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if len(c.responses) == 0 {
		return ChatResponse{Text: "(no more scripted responses)"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

// stubTool returns a canned result for every call, recording how many
// times it was invoked.
type stubTool struct {
	mu     sync.Mutex
	spec   ToolSpec
	result types.ToolExecutionResult
	calls  int
}

func (t *stubTool) Spec() ToolSpec { return t.spec }

func (t *stubTool) Execute(_ context.Context, toolCallID string, _ json.RawMessage) types.ToolExecutionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	res := t.result
	res.ToolCallID = toolCallID
	return res
}

func TestHandleReturnsFinalTextWithNoToolCalls(t *testing.T) {
	chat := &scriptedChatClient{responses: []ChatResponse{
		{Text: "hello there", InputTokens: 10, OutputTokens: 5},
	}}
	loop := New(chat, Registry{}, nil, "system prompt", 1024, 0.5, nil)

	result := loop.Handle(context.Background(), "conv-1", "hi")

	require.True(t, result.Success)
	assert.Equal(t, "hello there", result.Response)
	assert.Equal(t, 15, result.TokensUsed)
	assert.Equal(t, "conv-1", result.ConversationID)
}

func TestHandleDispatchesToolCallThenReturnsFinalAnswer(t *testing.T) {
	tool := &stubTool{
		spec:   ToolSpec{Name: "execute_code"},
		result: types.ToolExecutionResult{Success: true, Observation: "42", OutputLevel: types.OutputStandard},
	}
	chat := &scriptedChatClient{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: "execute_code", Arguments: json.RawMessage(`{"code":"print(1+41)"}`)}}},
		{Text: "the answer is 42"},
	}}
	loop := New(chat, Registry{"execute_code": tool}, nil, "sys", 1024, 0.5, nil)

	result := loop.Handle(context.Background(), "conv-2", "what is 1+41?")

	require.True(t, result.Success)
	assert.Equal(t, "the answer is 42", result.Response)
	assert.Equal(t, 1, tool.calls)
	require.Len(t, chat.calls, 2)
	// the second call must carry the tool result as a tool-role message
	lastReq := chat.calls[1]
	var sawToolMsg bool
	for _, m := range lastReq.Messages {
		if m.Role == types.RoleTool && m.ToolCallID == "call-1" {
			sawToolMsg = true
			assert.Equal(t, "42", m.Content)
		}
	}
	assert.True(t, sawToolMsg)
}

func TestHandleAppliesBriefOutputLevelTruncation(t *testing.T) {
	longObservation := ""
	for i := 0; i < 50; i++ {
		longObservation += "0123456789"
	}
	tool := &stubTool{
		spec:   ToolSpec{Name: "execute_code"},
		result: types.ToolExecutionResult{Success: true, Observation: longObservation},
	}
	chat := &scriptedChatClient{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: "execute_code", Arguments: json.RawMessage(`{"code":"x","output_level":"brief"}`)}}},
		{Text: "done"},
	}}
	loop := New(chat, Registry{"execute_code": tool}, nil, "sys", 1024, 0.5, nil)

	loop.Handle(context.Background(), "conv-3", "run something huge")

	lastReq := chat.calls[1]
	for _, m := range lastReq.Messages {
		if m.Role == types.RoleTool {
			assert.Less(t, len(m.Content), len(longObservation))
		}
	}
}

func TestHandleSerializesTurnsPerConversation(t *testing.T) {
	chat := &scriptedChatClient{responses: []ChatResponse{
		{Text: "first"}, {Text: "second"},
	}}
	loop := New(chat, Registry{}, nil, "sys", 1024, 0.5, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	results := make([]TurnResult, 2)
	go func() { defer wg.Done(); results[0] = loop.Handle(context.Background(), "shared", "a") }()
	go func() { defer wg.Done(); results[1] = loop.Handle(context.Background(), "shared", "b") }()
	wg.Wait()

	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	// Both turns completed without interleaving (each got a distinct
	// scripted reply); the conversation's message log reflects both.
	entry := loop.entryFor("shared")
	assert.Len(t, entry.state.Messages, 4) // 2 user + 2 assistant
}

func TestHandleParsesSkillActivationAndInjectsMessages(t *testing.T) {
	activation := types.SkillActivationResult{
		InjectMessages: []types.Message{{Role: types.RoleSystem, Content: "skill instructions", Visibility: types.VisibilityHidden}},
		Modifier:       &types.SkillContextModifier{AllowedTools: []string{"execute_code"}},
	}
	data, err := json.Marshal(activation)
	require.NoError(t, err)

	skillTool := &stubTool{
		spec:   ToolSpec{Name: "activate_skill"},
		result: types.ToolExecutionResult{Success: true, Observation: string(data)},
	}
	chat := &scriptedChatClient{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: "activate_skill", Arguments: json.RawMessage(`{"skill_name":"analytics"}`)}}},
		{Text: "skill engaged"},
	}}
	loop := New(chat, Registry{"activate_skill": skillTool}, nil, "sys", 1024, 0.5, nil)

	result := loop.Handle(context.Background(), "conv-4", "use the analytics skill")

	require.True(t, result.Success)
	entry := loop.entryFor("conv-4")
	require.NotNil(t, entry.state.ActiveSkillContext)
	assert.Equal(t, []string{"execute_code"}, entry.state.ActiveSkillContext.AllowedTools)

	var sawInjected bool
	for _, m := range entry.state.Messages {
		if m.Content == "skill instructions" {
			sawInjected = true
		}
	}
	assert.True(t, sawInjected)
}

func TestHandleTriggersCompactionAndResetsSessionTokens(t *testing.T) {
	chat := &scriptedChatClient{responses: []ChatResponse{
		{Text: "noted", InputTokens: 100000, OutputTokens: 0},
	}}
	flushCfg := config.FlushConfig{
		Enabled:             true,
		SoftThresholdTokens: 10,
		ReserveTokensFloor:  1,
		MinMemoryCount:      1,
		MaxMemoryAgeHours:   48,
		ContextWindowTokens: 100,
		LLMTimeout:          time.Second,
	}
	comp := compactor.New(flushCfg, nil, compactor.NoopExtractor{}, nil)
	loop := New(chat, Registry{}, comp, "sys", 1024, 0.5, nil)

	result := loop.Handle(context.Background(), "conv-5", "remember that the launch is on Friday")

	require.True(t, result.Success)
	// Session tokens should have been reset to 0 by the loop after a
	// successful flush, per the compactor's documented handoff.
	assert.Equal(t, 0, result.SessionTokens)
}
