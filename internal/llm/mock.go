package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ScriptedClient replays a fixed sequence of responses. Each CreateMessage
// call consumes the next scripted entry; calls past the end return an error.
// Intended for tests of the worker loop and orchestrator.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	calls     []Request
}

// ScriptedResponse is one scripted reply or error.
type ScriptedResponse struct {
	Response *Response
	Err      error
}

// NewScriptedClient builds a client replaying the given responses in order.
func NewScriptedClient(responses ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// CreateMessage pops the next scripted response and records the request.
func (c *ScriptedClient) CreateMessage(_ context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", len(c.calls))
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next.Response, next.Err
}

// Calls returns the requests seen so far.
func (c *ScriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.calls...)
}

// FinalAnswer scripts an end_turn reply carrying the given text.
func FinalAnswer(text string) ScriptedResponse {
	return ScriptedResponse{Response: &Response{
		StopReason: StopEndTurn,
		Content:    []ContentBlock{TextBlock(text)},
	}}
}

// ToolCallTurn scripts a tool_use reply with the given invocations.
func ToolCallTurn(uses ...ContentBlock) ScriptedResponse {
	return ScriptedResponse{Response: &Response{
		StopReason: StopToolUse,
		Content:    uses,
	}}
}

// ToolUse builds a tool_use block, marshaling input to JSON.
func ToolUse(id, name string, input map[string]any) ContentBlock {
	raw, _ := json.Marshal(input)
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: raw}
}
