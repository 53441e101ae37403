package reelagent

import "context"

// ToolSpec is the LLM-facing description of one tool: name, prose
// description, and a strict JSON schema, mirroring toolrouter.Tool's
// shape without importing that package (keeps reelagent provider-facing
// only, matching the teacher's agent.Tool/toOpenAI() separation).
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCallRequest is one tool call the assistant asked for in a turn.
type ToolCallRequest struct {
	CallID   string
	Name     string
	ArgsJSON string
}

// Response is what one LLM turn produces: assistant prose (possibly
// empty) and zero or more tool call requests.
type Response struct {
	AssistantText string
	ToolCalls     []ToolCallRequest
}

// LLMClient is the seam between the loop driver and a concrete LLM
// provider, generalizing the teacher's Builder/adapter split
// (agent/adapter.go) into a single small interface so tests can swap in
// a scripted fake.
type LLMClient interface {
	Complete(ctx context.Context, items []ConversationItem, tools []ToolSpec) (Response, error)
}
