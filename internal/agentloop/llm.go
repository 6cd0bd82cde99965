package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ba-agent-core/internal/errors"
	"ba-agent-core/pkg/types"
)

const anthropicVersion = "2023-06-01"

// ToolSpec is the tool declaration sent to the model on every turn.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCall is one tool invocation the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatRequest is one turn's worth of context sent to the model.
type ChatRequest struct {
	SystemPrompt string
	Messages     []types.Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
	// Model overrides the client's configured model for this call only,
	// set by an active skill's context modifier. Empty uses the client's
	// default.
	Model string
}

// ChatResponse is the model's reply: either final text, one or more tool
// calls, or both (a thinking preamble alongside a tool call).
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
}

// ChatClient is the LLM collaborator the loop drives. It is logically
// separate from the compactor's Extractor even though both may be backed
// by the same provider - the loop's calls carry live tool schemas and run
// at the user-facing model's temperature, the extractor's do not.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// AnthropicClient implements ChatClient against the Messages API, with
// tool-use blocks threaded through to ToolCall.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient builds a client. apiKey must be non-empty.
func NewAnthropicClient(apiKey, baseURL, model string, timeout time.Duration) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New(errors.KindBadInput, "LLM API key is empty")
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := c.buildRequestBody(req)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, errors.Wrap(errors.KindInternal, "failed to marshal chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return ChatResponse{}, errors.Wrap(errors.KindInternal, "failed to build chat request", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, errors.Wrap(errors.KindTimeout, "chat request exceeded its timeout", err)
		}
		return ChatResponse{}, errors.Wrap(errors.KindInternal, "chat request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, errors.Wrap(errors.KindInternal, "failed to read chat response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ChatResponse{}, errors.New(errors.KindInternal, fmt.Sprintf("chat provider returned HTTP %d: %s", resp.StatusCode, string(data)))
	}

	return parseAnthropicResponse(data)
}

func (c *AnthropicClient) buildRequestBody(req ChatRequest) map[string]interface{} {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	body := map[string]interface{}{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages":    anthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}
	if len(req.Tools) > 0 {
		body["tools"] = anthropicTools(req.Tools)
	}
	return body
}

func anthropicMessages(messages []types.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}
		if m.Role == types.RoleTool {
			// Tool results are surfaced as a user-role message carrying a
			// tool_result block, per the Messages API's tool-use protocol.
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": m.ToolCallID,
						"content":     m.Content,
					},
				},
			})
			continue
		}
		out = append(out, map[string]interface{}{"role": role, "content": m.Content})
	}
	return out
}

func anthropicTools(tools []ToolSpec) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, map[string]interface{}{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}
	return out
}

// ChatExtractor adapts a ChatClient into the compactor's Extractor
// interface, so the same provider backs both the user-facing model and the
// memory-extraction pass - deliberately through two separate call sites
// since the extraction call carries its own system prompt and no tools.
type ChatExtractor struct {
	Client ChatClient
}

func (e ChatExtractor) Extract(ctx context.Context, systemPrompt string, messages []types.Message) (string, error) {
	resp, err := e.Client.Chat(ctx, ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    1024,
		Temperature:  0,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func parseAnthropicResponse(data []byte) (ChatResponse, error) {
	var apiResp struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return ChatResponse{}, errors.Wrap(errors.KindInternal, "failed to parse chat response", err)
	}

	var out ChatResponse
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	out.InputTokens = apiResp.Usage.InputTokens
	out.OutputTokens = apiResp.Usage.OutputTokens
	return out, nil
}
