package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Phase identifies the step of a turn that an ExecutionContext describes.
type Phase string

const (
	PhaseUserInput        Phase = "user_input"
	PhaseLLMResult        Phase = "llm_result"
	PhaseToolResult       Phase = "tool_result"
	PhaseToolsBatchResult Phase = "tools_batch_result"
)

func (p Phase) String() string {
	return string(p)
}

// Known reports whether p is one of the phases a turn can be in.
func (p Phase) Known() bool {
	switch p {
	case PhaseUserInput, PhaseLLMResult, PhaseToolResult, PhaseToolsBatchResult:
		return true
	}
	return false
}

// ErrPhaseMismatch is returned by ExecutionContext.Validate when the payload
// belongs to a different phase than the one the context declares.
var ErrPhaseMismatch = errors.New("payload does not match phase")

// PhasePayload is the closed set of per-phase payload shapes.
type PhasePayload interface {
	Phase() Phase
}

// UserInputPayload carries the raw text that started the turn.
type UserInputPayload struct {
	Message string `json:"message"`
}

func (UserInputPayload) Phase() Phase { return PhaseUserInput }

// LLMResult is what the model answered: text plus the raw tool calls it emitted.
type LLMResult struct {
	Content   string            `json:"content"`
	ToolCalls []schema.ToolCall `json:"tool_calls"`
}

// LLMResultPayload is produced by the model executor after a call_llm instruction.
// HasToolsCalling is normally true iff Result.ToolCalls is non-empty, but callers
// may hand in payloads that break this.
type LLMResultPayload struct {
	HasToolsCalling bool               `json:"hasToolsCalling"`
	Result          LLMResult          `json:"result"`
	ToolsCalling    []ToolInvocation   `json:"toolsCalling"`
	Usage           *schema.TokenUsage `json:"usage,omitempty"`
	CostUSD         float64            `json:"costUsd,omitempty"`
}

func (LLMResultPayload) Phase() Phase { return PhaseLLMResult }

// ToolResultPayload is the outcome of one tool invocation.
type ToolResultPayload struct {
	ToolCall      ToolInvocation `json:"toolCall"`
	ToolCallID    string         `json:"toolCallId"`
	Data          string         `json:"data"`
	IsSuccess     bool           `json:"isSuccess"`
	ExecutionTime time.Duration  `json:"executionTime"`
}

func (ToolResultPayload) Phase() Phase { return PhaseToolResult }

// ToolsBatchResultPayload holds the outcomes of a batch, in call order.
type ToolsBatchResultPayload struct {
	Results []ToolResultPayload `json:"results"`
}

func (ToolsBatchResultPayload) Phase() Phase { return PhaseToolsBatchResult }

// ExecutionContext is the phase a turn is in plus the payload for that phase.
type ExecutionContext struct {
	Phase   Phase        `json:"phase"`
	Payload PhasePayload `json:"payload,omitempty"`
}

// NewExecutionContext builds a context whose phase is taken from the payload type.
func NewExecutionContext(payload PhasePayload) ExecutionContext {
	return ExecutionContext{Phase: payload.Phase(), Payload: payload}
}

// Validate reports a payload that belongs to another phase. A nil payload is accepted.
func (c ExecutionContext) Validate() error {
	if c.Payload == nil || !c.Phase.Known() {
		return nil
	}
	if got := c.Payload.Phase(); got != c.Phase {
		return fmt.Errorf("%w: phase %s, payload %s", ErrPhaseMismatch, c.Phase, got)
	}
	return nil
}

// AsLLMResult extracts an LLMResultPayload stored by value or by non-nil pointer.
func AsLLMResult(p PhasePayload) (LLMResultPayload, bool) {
	switch v := p.(type) {
	case LLMResultPayload:
		return v, true
	case *LLMResultPayload:
		if v != nil {
			return *v, true
		}
	}
	return LLMResultPayload{}, false
}
