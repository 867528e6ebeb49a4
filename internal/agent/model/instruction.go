package model

import "github.com/cloudwego/eino/schema"

// InstructionType tags the variant held by an Instruction.
type InstructionType string

const (
	InstructionCallLLM        InstructionType = "call_llm"
	InstructionCallTool       InstructionType = "call_tool"
	InstructionCallToolsBatch InstructionType = "call_tools_batch"
	InstructionFinish         InstructionType = "finish"
)

// FinishReason explains why a turn ended.
type FinishReason string

const (
	FinishCompleted        FinishReason = "completed"
	FinishErrorRecovery    FinishReason = "error_recovery"
	FinishMaxStepsExceeded FinishReason = "max_steps_exceeded"
	FinishInterrupted      FinishReason = "interrupted"
)

// CallLLMPayload is everything the model executor needs for one model call.
type CallLLMPayload struct {
	Messages []*schema.Message  `json:"messages"`
	Model    string             `json:"model,omitempty"`
	Provider string             `json:"provider,omitempty"`
	Tools    []*schema.ToolInfo `json:"tools"`
}

// Instruction is the controller's output. Type selects which of the remaining
// fields is set; use the constructors below rather than building it by hand.
type Instruction struct {
	Type InstructionType `json:"type"`

	Payload      *CallLLMPayload  `json:"payload,omitempty"`
	ToolCall     *ToolInvocation  `json:"toolCall,omitempty"`
	ToolsCalling []ToolInvocation `json:"toolsCalling,omitempty"`
	Reason       FinishReason     `json:"reason,omitempty"`
	ReasonDetail string           `json:"reasonDetail,omitempty"`
}

func CallLLM(payload CallLLMPayload) Instruction {
	return Instruction{Type: InstructionCallLLM, Payload: &payload}
}

func CallTool(call ToolInvocation) Instruction {
	return Instruction{Type: InstructionCallTool, ToolCall: &call}
}

func CallToolsBatch(calls []ToolInvocation) Instruction {
	return Instruction{Type: InstructionCallToolsBatch, ToolsCalling: calls}
}

func Finish(reason FinishReason, detail string) Instruction {
	return Instruction{Type: InstructionFinish, Reason: reason, ReasonDetail: detail}
}

// IsTerminal reports whether the instruction ends the turn.
func (i Instruction) IsTerminal() bool {
	return i.Type == InstructionFinish
}
