package runtime

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	errx "github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/core/error"
	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
)

const (
	completedDetail       = "Agent completed successfully"
	emptyToolCallsDetail  = "Model flagged tool calls but returned none"
	malformedResultDetail = "Malformed payload for phase llm_result"
)

// Controller decides the next orchestration step of a turn. It is a pure router:
// it never calls models or tools and keeps no state besides its config, so one
// Controller may serve concurrent Decide calls.
type Controller struct {
	config model.TurnConfig
}

// NewController captures cfg. SessionID is required.
func NewController(cfg model.TurnConfig) (*Controller, error) {
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errx.InvalidConfig(errx.ErrSessionIDRequired)
	}
	if cfg.Dispatch.MaxBatchSize < 0 {
		return nil, errx.InvalidConfig(errx.ErrInvalidBatchSize)
	}
	return &Controller{config: cfg.Clone()}, nil
}

// Config returns a copy of the configuration the controller was built with.
func (c *Controller) Config() model.TurnConfig {
	return c.config.Clone()
}

// Tools is always empty; tool implementations live with the tool executor.
func (c *Controller) Tools() map[string]tool.BaseTool {
	return map[string]tool.BaseTool{}
}

// Decide maps the current phase to the instructions the orchestrator runs next.
// It always returns at least one instruction; a Finish is only ever returned alone.
func (c *Controller) Decide(ec model.ExecutionContext, state model.ConversationState) []model.Instruction {
	out, note := c.decide(ec, state)

	ev := logx.Debug()
	if note != "" {
		ev = logx.Warn().Str("note", note)
	}
	ev.Str("session_id", c.config.SessionID).
		Str("phase", ec.Phase.String()).
		Strs("instructions", instructionTypes(out)).
		Msg("Processing phase")

	return out
}

func (c *Controller) decide(ec model.ExecutionContext, state model.ConversationState) ([]model.Instruction, string) {
	switch ec.Phase {
	case model.PhaseUserInput, model.PhaseToolResult, model.PhaseToolsBatchResult:
		return []model.Instruction{c.callLLM(state)}, ""

	case model.PhaseLLMResult:
		payload, ok := model.AsLLMResult(ec.Payload)
		if !ok {
			return finish(model.FinishErrorRecovery, malformedResultDetail), "llm_result payload missing or of wrong type"
		}
		return c.dispatchTools(payload)

	default:
		return finish(model.FinishErrorRecovery, fmt.Sprintf("Unknown phase: %s", ec.Phase)), "unknown phase"
	}
}

func (c *Controller) callLLM(state model.ConversationState) model.Instruction {
	return model.CallLLM(model.CallLLMPayload{
		Messages: state.Messages,
		Model:    c.config.Model(),
		Provider: c.config.Provider(),
		Tools:    state.Tools,
	})
}

// dispatchTools reads the raw tool calls of the model result, not the
// pre-converted ToolsCalling list, so what runs is exactly what the model asked for.
func (c *Controller) dispatchTools(p model.LLMResultPayload) ([]model.Instruction, string) {
	if !p.HasToolsCalling {
		return finish(model.FinishCompleted, completedDetail), ""
	}

	calls := model.ToolInvocationsFromCalls(p.Result.ToolCalls)
	policy := c.config.Dispatch

	switch {
	case len(calls) == 0:
		return finish(model.FinishCompleted, emptyToolCallsDetail), "hasToolsCalling set without tool calls"
	case len(calls) == 1 && !policy.AlwaysBatch:
		return []model.Instruction{model.CallTool(calls[0])}, ""
	}

	size := policy.MaxBatchSize
	if size <= 0 || size >= len(calls) {
		return []model.Instruction{model.CallToolsBatch(calls)}, ""
	}

	out := make([]model.Instruction, 0, (len(calls)+size-1)/size)
	for start := 0; start < len(calls); start += size {
		end := min(start+size, len(calls))
		out = append(out, model.CallToolsBatch(calls[start:end:end]))
	}
	return out, ""
}

func finish(reason model.FinishReason, detail string) []model.Instruction {
	return []model.Instruction{model.Finish(reason, detail)}
}

func instructionTypes(ins []model.Instruction) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = string(in.Type)
	}
	return out
}
