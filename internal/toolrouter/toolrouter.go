// Package toolrouter dispatches the five named tool calls spec.md §4.6
// defines to the provider adapters and the session store, validating
// arguments against a strict schema the way the teacher's agent.Tool
// (agent/tool.go) pairs a JSON-schema definition with a handler func.
// Unlike the teacher, a Tool here never returns a bare error string to
// propagate up through the loop: every failure is folded into the
// result packet itself, since the agent loop must be able to read a
// tool's failure and re-plan instead of aborting.
package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
)

// Tool is one named, strictly-schemaed function exposed to the LLM.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     func(ctx context.Context, argsJSON string) (string, error)
}

// Schema returns a strict object schema with the given properties and
// required fields, matching spec.md §4.6's "additionalProperties: false"
// invariant on every tool.
func Schema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// Router holds every registered tool by name.
type Router struct {
	tools map[string]*Tool
}

// NewRouter builds an empty router; callers register tools with Register.
func NewRouter() *Router {
	return &Router{tools: map[string]*Tool{}}
}

// Register adds t to the router, keyed by t.Name.
func (r *Router) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Tools returns every registered tool, for building the LLM's tool list.
func (r *Router) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// errorPacket is the JSON shape every failed tool call returns to the
// LLM, per spec.md §4.6's "return an error packet the LLM can read, NOT
// throw" requirement.
type errorPacket struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func packError(class reelerr.Class, msg string) string {
	b, _ := json.Marshal(errorPacket{Error: string(class), Message: msg})
	return string(b)
}

// Dispatch runs the named tool with the given raw JSON arguments. An
// unknown tool name or a handler error is converted into an error
// packet string rather than returned as a Go error, matching the
// router's "never throw" contract; Dispatch has no error return, and
// callers tell failures apart by parsing the packet.
func (r *Router) Dispatch(ctx context.Context, name, argsJSON string) string {
	t, ok := r.tools[name]
	if !ok {
		return packError(reelerr.ClassInvalidResponse, fmt.Sprintf("unknown tool: %s", name))
	}
	out, err := t.Handler(ctx, argsJSON)
	if err != nil {
		return packError(reelerr.ClassOf(err), err.Error())
	}
	return out
}
