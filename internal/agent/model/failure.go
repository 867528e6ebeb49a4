package model

import "encoding/json"

// Kinds of tool failure reported in ToolResultPayload.Data.
const (
	ToolErrorUnknownTool      = "unknown_tool"
	ToolErrorInvalidArguments = "invalid_arguments"
	ToolErrorExecution        = "execution_error"
	ToolErrorTimeout          = "timeout"
	ToolErrorCanceled         = "canceled"
	ToolErrorSkipped          = "skipped"
)

// ToolFailureData renders the JSON document a failed tool call returns to the model.
func ToolFailureData(tool, kind, message string) string {
	b, _ := json.Marshal(map[string]string{
		"error":   kind,
		"tool":    tool,
		"message": message,
	})
	return string(b)
}

// SkippedToolResult answers a tool call that was never executed.
func SkippedToolResult(call ToolInvocation, reason string) ToolResultPayload {
	return ToolResultPayload{
		ToolCall:   call,
		ToolCallID: call.ID,
		Data:       ToolFailureData(call.Name, ToolErrorSkipped, reason),
	}
}
