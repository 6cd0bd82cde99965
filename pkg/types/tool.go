package types

// OutputLevel controls how much of a tool's observation is surfaced back
// into the conversation.
type OutputLevel string

const (
	OutputBrief OutputLevel = "brief"
	OutputStandard OutputLevel = "standard"
	OutputFull OutputLevel = "full"
)

// ToolExecutionResult is the uniform envelope every tool call produces,
// whether it succeeded, failed, or was degraded.
type ToolExecutionResult struct {
	ToolCallID    string      `json:"tool_call_id"`
	ToolName      string      `json:"tool_name"`
	Success       bool        `json:"success"`
	Observation   string      `json:"observation"`
	ArtifactID    string      `json:"artifact_id,omitempty"`
	DataSizeBytes int64       `json:"data_size_bytes,omitempty"`
	DataHash      string      `json:"data_hash,omitempty"`
	OutputLevel   OutputLevel `json:"output_level"`
	DurationMS    int64       `json:"duration_ms"`
	ErrorKind     string      `json:"error_kind,omitempty"`
}
