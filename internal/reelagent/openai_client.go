package reelagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient wraps github.com/openai/openai-go/v3, reusing the
// teacher's client-construction pattern (agent/builder_execution.go's
// ensureClient) but rebuilding the full message list from the driver's
// own ConversationItem slice on every call instead of keeping message
// state inside the client, per spec.md §9's "no opaque previous response
// id" design note.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client scoped to model, authenticated with
// apiKey the same way the teacher's ensureClient does for ProviderOpenAI.
func NewOpenAIClient(model, apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(option.WithAPIKey(apiKey)), model: model}
}

func (c *OpenAIClient) Complete(ctx context.Context, items []ConversationItem, tools []ToolSpec) (Response, error) {
	messages, err := toOpenAIMessages(items)
	if err != nil {
		return Response{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolUnionParam, len(tools))
		for i, t := range tools {
			params.Tools[i] = toOpenAITool(t)
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("reelagent: chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("reelagent: no response choices returned")
	}

	msg := completion.Choices[0].Message
	resp := Response{AssistantText: msg.Content}
	for _, tc := range msg.ToolCalls {
		callID := tc.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCallRequest{
			CallID:   callID,
			Name:     tc.Function.Name,
			ArgsJSON: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// toOpenAITool converts a ToolSpec into the strict function-tool shape
// spec.md §4.6 requires, following the teacher's Tool.toOpenAI()
// (agent/tool.go) marshal-through-json approach to bridge our
// map[string]any schema into openai's typed FunctionParameters.
func toOpenAITool(t ToolSpec) openai.ChatCompletionToolUnionParam {
	var funcParams openai.FunctionParameters
	if raw, err := json.Marshal(t.Schema); err == nil {
		_ = json.Unmarshal(raw, &funcParams)
	}
	return openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        t.Name,
		Description: openai.String(t.Description),
		Parameters:  funcParams,
	})
}

// toOpenAIMessages replays the driver's ConversationItem slice into the
// provider's message list. tool_call items become an assistant message
// carrying tool_calls; tool_call_output items become tool messages keyed
// by the same call_id, preserving the strict pairing spec.md §4.7
// requires even though this client holds no state between calls.
func toOpenAIMessages(items []ConversationItem) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	i := 0
	for i < len(items) {
		item := items[i]
		switch item.Kind {
		case KindUserText:
			out = append(out, openai.UserMessage(item.Text))
			i++
		case KindAssistantText:
			out = append(out, openai.AssistantMessage(item.Text))
			i++
		case KindToolCall:
			var calls []ConversationItem
			for i < len(items) && items[i].Kind == KindToolCall {
				calls = append(calls, items[i])
				i++
			}
			toolCallParams := make([]openai.ChatCompletionMessageToolCallUnionParam, len(calls))
			for j, c := range calls {
				toolCallParams[j] = openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: c.CallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      c.ToolName,
							Arguments: c.ArgsJSON,
						},
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCallParams},
			})
		case KindToolCallOutput:
			out = append(out, openai.ToolMessage(item.Output, item.CallID))
			i++
		default:
			return nil, fmt.Errorf("reelagent: unknown conversation item kind %q", item.Kind)
		}
	}
	return out, nil
}
