package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// ToolNameSeparator joins identifier, api name and type in namespaced tool names,
// e.g. "web-search____search____builtin".
const ToolNameSeparator = "____"

// DefaultToolType is used when a tool name carries no type segment.
const DefaultToolType = "default"

// ToolInvocation is a tool call as the tool executor consumes it.
type ToolInvocation struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	APIName    string `json:"apiName"`
	Arguments  string `json:"arguments"`
	Type       string `json:"type"`
}

// ToolInvocationFromCall converts a raw model tool call into a ToolInvocation.
func ToolInvocationFromCall(call schema.ToolCall) ToolInvocation {
	name := call.Function.Name
	inv := ToolInvocation{
		ID:         call.ID,
		Name:       name,
		Identifier: name,
		APIName:    name,
		Arguments:  call.Function.Arguments,
		Type:       DefaultToolType,
	}

	parts := strings.Split(name, ToolNameSeparator)
	if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
		inv.Identifier = parts[0]
		inv.APIName = parts[1]
		if len(parts) >= 3 && parts[2] != "" {
			inv.Type = parts[2]
		}
	}
	return inv
}

// ToolInvocationsFromCalls converts calls preserving their order.
func ToolInvocationsFromCalls(calls []schema.ToolCall) []ToolInvocation {
	out := make([]ToolInvocation, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolInvocationFromCall(c))
	}
	return out
}

// ToolCall converts the invocation back into the schema shape stored on assistant messages.
func (t ToolInvocation) ToolCall() schema.ToolCall {
	return schema.ToolCall{
		ID:   t.ID,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      t.Name,
			Arguments: t.Arguments,
		},
	}
}
