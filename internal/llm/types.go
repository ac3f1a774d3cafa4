package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	// StopEndTurn means the model produced a final answer.
	StopEndTurn StopReason = "end_turn"

	// StopToolUse means the model requested one or more tool invocations.
	StopToolUse StopReason = "tool_use"

	// StopMaxTokens means the reply was truncated by the token ceiling.
	StopMaxTokens StopReason = "max_tokens"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one element of a message: either model text, a tool
// invocation request, or a tool result being fed back.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", or "tool_result"

	// Text payload, set when Type is "text".
	Text string `json:"text,omitempty"`

	// Tool invocation fields, set when Type is "tool_use".
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields, set when Type is "tool_result".
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResultBlock builds a tool_result block answering the given tool_use id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: content}
}

// Message is one turn of conversation history.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDefinition describes one tool in the catalogue offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one completion call.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Tools     []ToolDefinition
	Messages  []Message
}

// Response is the model's reply.
type Response struct {
	StopReason StopReason
	Content    []ContentBlock
}

// Text returns the first text block of the response, or "".
func (r *Response) Text() string {
	for _, b := range r.Content {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// ToolUses returns the tool invocation blocks of the response, in order.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

// APIError is a provider-reported completion failure. It is surfaced with
// the provider's message and never retried within a turn.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion service error (%d): %s", e.StatusCode, e.Message)
}

// Client is the opaque contract with the LLM completion service: given a
// system prompt, a tool catalogue, and a message history, return either a
// final text answer or a list of tool invocations.
type Client interface {
	CreateMessage(ctx context.Context, req Request) (*Response, error)
}
