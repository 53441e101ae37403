// Package reelagent drives the multi-turn tool-calling loop described
// by spec.md §4.7, generalizing the teacher's askWithToolExecution
// (agent/builder_execution.go) from an opaque OpenAI message slice into
// an explicit, provider-agnostic four-kind conversation item sequence
// the driver itself owns end to end.
package reelagent

// Kind is one of the four conversation item kinds spec.md §4.7 names.
type Kind string

const (
	KindUserText       Kind = "user_text"
	KindAssistantText  Kind = "assistant_text"
	KindToolCall       Kind = "tool_call"
	KindToolCallOutput Kind = "tool_call_output"
)

// ConversationItem is one entry in the ordered context the LLM sees.
// Only the fields relevant to Kind are populated; the rest are zero.
type ConversationItem struct {
	Kind Kind

	// user_text / assistant_text
	Text string

	// tool_call
	CallID   string
	ToolName string
	ArgsJSON string

	// tool_call_output — CallID above is reused; Output is a JSON string
	// per spec.md §4.7's "tool_call_output item MUST carry ... a JSON
	// string output field".
	Output string
}

// UserText builds a user_text item.
func UserText(text string) ConversationItem {
	return ConversationItem{Kind: KindUserText, Text: text}
}

// AssistantText builds an assistant_text item.
func AssistantText(text string) ConversationItem {
	return ConversationItem{Kind: KindAssistantText, Text: text}
}

// ToolCall builds a tool_call item.
func ToolCall(callID, toolName, argsJSON string) ConversationItem {
	return ConversationItem{Kind: KindToolCall, CallID: callID, ToolName: toolName, ArgsJSON: argsJSON}
}

// ToolCallOutput builds a tool_call_output item, pairing callID back to
// its originating tool_call.
func ToolCallOutput(callID, output string) ConversationItem {
	return ConversationItem{Kind: KindToolCallOutput, CallID: callID, Output: output}
}
