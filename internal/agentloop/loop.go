// Package agentloop implements the Agent Loop (C6): per-conversation state,
// the ReAct-style tool-dispatch chain against the model, skill activation,
// and the handoff to the compactor after each turn.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ba-agent-core/internal/compactor"
	"ba-agent-core/internal/logging"
	"ba-agent-core/pkg/types"
)

// maxToolIterations bounds one turn's tool-call chain. The model is
// expected to converge on a final answer well before this; it exists so a
// misbehaving or looping model cannot hold a conversation's mutex forever.
const maxToolIterations = 12

// TurnResult is what one Handle call returns to the HTTP layer.
type TurnResult struct {
	ConversationID string
	Response       string
	Success        bool
	TokensUsed     int
	SessionTokens  int
	DurationMS     int64
	Error          string
}

// conversationEntry pairs one conversation's state with the mutex that
// serialises turns against it.
type conversationEntry struct {
	mu    sync.Mutex
	state *types.ConversationState
}

// Loop is the concrete C6 implementation.
type Loop struct {
	chat         ChatClient
	tools        Registry
	compactor    *compactor.Compactor
	systemPrompt string
	maxTokens    int
	temperature  float64
	log          logging.Logger

	mapMu         sync.Mutex
	conversations map[string]*conversationEntry
}

// New builds a Loop. systemPrompt is sent verbatim on every chat call,
// except that after a skill activation a note saying a skill is active is
// appended to it for the remainder of that turn.
func New(chat ChatClient, tools Registry, comp *compactor.Compactor, systemPrompt string, maxTokens int, temperature float64, log logging.Logger) *Loop {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	return &Loop{
		chat:          chat,
		tools:         tools,
		compactor:     comp,
		systemPrompt:  systemPrompt,
		maxTokens:     maxTokens,
		temperature:   temperature,
		log:           log.WithComponent("agentloop"),
		conversations: make(map[string]*conversationEntry),
	}
}

func (l *Loop) entryFor(conversationID string) *conversationEntry {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	e, ok := l.conversations[conversationID]
	if !ok {
		e = &conversationEntry{state: &types.ConversationState{
			ConversationID: conversationID,
			SessionStart:   time.Now().UTC(),
		}}
		l.conversations[conversationID] = e
	}
	return e
}

// Handle runs one user turn to completion: steps 1-6 of the loop. Exactly
// one turn executes at a time per conversation id; concurrent callers for
// the same id block on the conversation's own mutex, not the loop's.
func (l *Loop) Handle(ctx context.Context, conversationID, userMessage string) TurnResult {
	start := time.Now()
	if conversationID == "" {
		conversationID = fmt.Sprintf("conv_%d", time.Now().UnixNano())
	}

	entry := l.entryFor(conversationID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state

	userMsg := types.Message{Role: types.RoleUser, Content: userMessage, CreatedAt: time.Now().UTC()}
	state.Messages = append(state.Messages, userMsg)
	state.MessageBuffer = append(state.MessageBuffer, userMsg)

	replyText, turnTokens, turnFileRefs, err := l.runToolLoop(ctx, state)
	if err != nil {
		return TurnResult{
			ConversationID: conversationID,
			Response:       "sorry, something went wrong while processing that",
			Success:        false,
			DurationMS:     time.Since(start).Milliseconds(),
			Error:          err.Error(),
		}
	}

	state.SessionTokens += turnTokens
	state.PendingFileRefs = append(state.PendingFileRefs, turnFileRefs...)

	assistantMsg := types.Message{Role: types.RoleAssistant, Content: replyText, CreatedAt: time.Now().UTC()}
	state.Messages = append(state.Messages, assistantMsg)
	state.MessageBuffer = append(state.MessageBuffer, assistantMsg)

	// The flush outcome is never surfaced to the user - a silent round.
	if l.compactor != nil {
		result := l.compactor.CheckAndFlush(ctx, state, false)
		if result.Flushed {
			state.CompactionCount++
			state.SessionTokens = 0
		}
	}

	return TurnResult{
		ConversationID: conversationID,
		Response:       replyText,
		Success:        true,
		TokensUsed:     turnTokens,
		SessionTokens:  state.SessionTokens,
		DurationMS:     time.Since(start).Milliseconds(),
	}
}

// ForceFlush triggers an unconditional compaction for a conversation,
// bypassing the eligibility filter (the adopted reading of the force
// Open Question). Used by administrative/shutdown paths, not the chat
// endpoint itself.
func (l *Loop) ForceFlush(ctx context.Context, conversationID string) compactor.FlushResult {
	entry := l.entryFor(conversationID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if l.compactor == nil {
		return compactor.FlushResult{}
	}
	result := l.compactor.CheckAndFlush(ctx, entry.state, true)
	if result.Flushed {
		entry.state.CompactionCount++
		entry.state.SessionTokens = 0
	}
	return result
}

// runToolLoop drives steps 3-5: invoke the model, dispatch any tool
// calls, and repeat until a final answer or the iteration cap. The
// returned FileRefs are every artifact a dispatched tool spilled to the
// file store this turn, for the compactor's flush block back-reference.
func (l *Loop) runToolLoop(ctx context.Context, state *types.ConversationState) (string, int, []types.FileRef, error) {
	var totalTokens int
	var fileRefs []types.FileRef
	var allowedTools []string
	modelOverride := ""
	disableModel := false
	state.ActiveSkillContext = nil

	for i := 0; i < maxToolIterations; i++ {
		if disableModel {
			return "", totalTokens, fileRefs, nil
		}

		req := ChatRequest{
			SystemPrompt: l.effectiveSystemPrompt(state),
			Messages:     visibleMessages(state.Messages),
			Tools:        l.tools.specs(allowedTools),
			MaxTokens:    l.maxTokens,
			Temperature:  l.temperature,
			Model:        modelOverride,
		}

		resp, err := l.chat.Chat(ctx, req)
		if err != nil {
			return "", totalTokens, fileRefs, err
		}
		totalTokens += resp.InputTokens + resp.OutputTokens

		if len(resp.ToolCalls) == 0 {
			return resp.Text, totalTokens, fileRefs, nil
		}

		if resp.Text != "" {
			state.Messages = append(state.Messages, types.Message{
				Role: types.RoleAssistant, Content: resp.Text, CreatedAt: time.Now().UTC(),
			})
		}

		for _, call := range resp.ToolCalls {
			result := l.dispatch(ctx, call)
			if result.ArtifactID != "" {
				fileRefs = append(fileRefs, types.FileRef{Category: types.CategoryCache, FileID: result.ArtifactID})
			}

			if call.Name == "activate_skill" {
				var activation types.SkillActivationResult
				if jerr := json.Unmarshal([]byte(result.Observation), &activation); jerr == nil {
					for _, injected := range activation.InjectMessages {
						if injected.CreatedAt.IsZero() {
							injected.CreatedAt = time.Now().UTC()
						}
						state.Messages = append(state.Messages, injected)
					}
					if activation.Modifier != nil {
						state.ActiveSkillContext = activation.Modifier
						allowedTools = activation.Modifier.AllowedTools
						modelOverride = activation.Modifier.ModelOverride
						disableModel = activation.Modifier.DisableFurtherModel
					}
				}
			}

			state.Messages = append(state.Messages, toolResultMessage(result))
		}
	}

	return "", totalTokens, fileRefs, nil
}

func (l *Loop) effectiveSystemPrompt(state *types.ConversationState) string {
	if state.ActiveSkillContext != nil {
		return l.systemPrompt + "\n\nA skill is active for the remainder of this turn."
	}
	return l.systemPrompt
}

func (l *Loop) dispatch(ctx context.Context, call ToolCall) types.ToolExecutionResult {
	tool, ok := l.tools[call.Name]
	if !ok {
		return types.ToolExecutionResult{
			ToolCallID:  call.ID,
			ToolName:    call.Name,
			Success:     false,
			Observation: fmt.Sprintf("unknown tool %q", call.Name),
			ErrorKind:   "NOT_FOUND",
			OutputLevel: types.OutputStandard,
		}
	}
	result := tool.Execute(ctx, call.ID, call.Arguments)
	return applyOutputLevel(result, outputLevelFromArgs(call.Arguments))
}

// outputLevelFromArgs reads an optional output_level field off the raw
// tool-call arguments, defaulting to standard when absent or invalid.
func outputLevelFromArgs(args json.RawMessage) types.OutputLevel {
	var shape struct {
		OutputLevel string `json:"output_level"`
	}
	if err := json.Unmarshal(args, &shape); err != nil {
		return types.OutputStandard
	}
	switch types.OutputLevel(shape.OutputLevel) {
	case types.OutputBrief, types.OutputFull:
		return types.OutputLevel(shape.OutputLevel)
	default:
		return types.OutputStandard
	}
}

// briefObservationChars is how much of an observation survives at the
// brief output level.
const briefObservationChars = 280

func applyOutputLevel(res types.ToolExecutionResult, level types.OutputLevel) types.ToolExecutionResult {
	res.OutputLevel = level
	if level == types.OutputBrief && len(res.Observation) > briefObservationChars {
		res.Observation = res.Observation[:briefObservationChars] + "... (truncated; use output_level=full to see everything)"
	}
	return res
}

func toolResultMessage(res types.ToolExecutionResult) types.Message {
	content := res.Observation
	if !res.Success {
		content = fmt.Sprintf("error (%s): %s", res.ErrorKind, res.Observation)
	}
	return types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: res.ToolCallID,
		CreatedAt:  time.Now().UTC(),
	}
}

// visibleMessages is what gets sent to the model: every message regardless
// of visibility, since hidden/meta messages still steer the model's
// behaviour for the rest of the turn. Visibility only governs what a chat
// history endpoint would later show an end user, not what the model sees.
func visibleMessages(messages []types.Message) []types.Message {
	return messages
}
