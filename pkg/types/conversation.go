package types

import "time"

// Role is the speaker of a message in a conversation.
type Role string

const (
	RoleUser Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool Role = "tool"
	RoleSystem Role = "system"
)

// Visibility controls whether an injected message is shown to the user.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden Visibility = "hidden"
	VisibilityMeta Visibility = "meta"
)

// Message is the internal representation of one conversational turn,
// replacing the source's LangGraph-specific message shapes.
type Message struct {
	Role       Role                   `json:"role"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Visibility Visibility             `json:"visibility,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ConversationState is the per-conversation state the agent loop and
// compactor cooperate over.
type ConversationState struct {
	ConversationID          string
	Messages                []Message
	SessionTokens           int
	CompactionCount         int
	LastCompactionTokenMark int
	MessageBuffer           []Message
	ActiveSkillContext      *SkillContextModifier
	SessionStart            time.Time
	LastFlushTokens         int
	FlushedAtCompactionCnt  int
	PendingFileRefs         []FileRef
}

// SkillContextModifier is the context modifier a skill activation can apply
// to the remainder of the current turn.
type SkillContextModifier struct {
	AllowedTools        []string `json:"allowed_tools,omitempty"`
	ModelOverride       string   `json:"model_override,omitempty"`
	DisableFurtherModel bool     `json:"disable_further_model"`
}

// SkillActivationResult is what the activate_skill tool returns.
type SkillActivationResult struct {
	InjectMessages []Message             `json:"inject_messages,omitempty"`
	Modifier       *SkillContextModifier `json:"modifier,omitempty"`
}
