package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/telemetry"
)

const tracerName = "github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/runtime"

// ModelExecutor runs call_llm instructions.
type ModelExecutor interface {
	Call(ctx context.Context, payload model.CallLLMPayload) (*model.LLMResultPayload, error)
}

// ToolExecutor runs call_tool and call_tools_batch instructions. Tool failures
// are reported in the payload, never as Go errors.
type ToolExecutor interface {
	CallTool(ctx context.Context, call model.ToolInvocation) model.ToolResultPayload
	CallToolsBatch(ctx context.Context, calls []model.ToolInvocation) model.ToolsBatchResultPayload
}

// StateStore supplies and records the conversation of a session.
type StateStore interface {
	LoadState(ctx context.Context, sessionID string) (model.ConversationState, error)
	SaveUserInput(ctx context.Context, sessionID, input string) error
	SaveMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error
}

// RuntimeConfig wires the collaborators of a Runtime. Tracer is optional.
type RuntimeConfig struct {
	Controller *Controller
	State      StateStore
	Models     ModelExecutor
	Tools      ToolExecutor
	Tracer     trace.Tracer
}

// Runtime is the orchestrator loop: it feeds phases into the controller and
// executes the instructions it gets back until the turn finishes. Turns of the
// same session must not run concurrently.
type Runtime struct {
	controller *Controller
	state      StateStore
	models     ModelExecutor
	tools      ToolExecutor
	tracer     trace.Tracer
	sessionID  string
	maxSteps   int
}

// TurnResult summarises a finished turn.
type TurnResult struct {
	TurnID       string
	Reason       model.FinishReason
	ReasonDetail string
	// Content is the text of the last model answer in the turn.
	Content string
	Steps   int
	CostUSD float64
	// Trace lists every instruction the controller emitted, terminal one included.
	Trace []model.Instruction
}

// turnState tracks tool calls the model requested that have no saved reply yet.
type turnState struct {
	res     *TurnResult
	pending []model.ToolInvocation
}

func (t *turnState) answered(results ...model.ToolResultPayload) {
	if len(t.pending) == 0 {
		return
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.ToolCallID] = true
	}
	kept := t.pending[:0]
	for _, call := range t.pending {
		if !done[call.ID] {
			kept = append(kept, call)
		}
	}
	t.pending = kept
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	switch {
	case cfg.Controller == nil:
		return nil, errors.New("runtime: controller is nil")
	case cfg.State == nil:
		return nil, errors.New("runtime: state store is nil")
	case cfg.Models == nil:
		return nil, errors.New("runtime: model executor is nil")
	case cfg.Tools == nil:
		return nil, errors.New("runtime: tool executor is nil")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	tc := cfg.Controller.Config()
	return &Runtime{
		controller: cfg.Controller,
		state:      cfg.State,
		models:     cfg.Models,
		tools:      cfg.Tools,
		tracer:     tracer,
		sessionID:  tc.SessionID,
		maxSteps:   tc.MaxSteps(),
	}, nil
}

// RunTurn stores input as a user message and drives the turn to a Finish.
// Model and storage failures abort the turn with an error; cancellation of ctx
// ends it with FinishInterrupted and returns ctx.Err() alongside the result.
func (r *Runtime) RunTurn(ctx context.Context, input string) (res *TurnResult, err error) {
	res = &TurnResult{TurnID: uuid.NewString()}

	ctx, span := r.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session_id", r.sessionID),
		attribute.String("turn_id", res.TurnID),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("finish_reason", string(res.Reason)),
			attribute.Int("steps", res.Steps),
		)
		telemetry.End(span, err)
	}()

	if err := r.state.SaveUserInput(ctx, r.sessionID, input); err != nil {
		return res, fmt.Errorf("save user input: %w", err)
	}

	ts := &turnState{res: res}
	ec := model.NewExecutionContext(model.UserInputPayload{Message: input})
	for {
		if err := ctx.Err(); err != nil {
			return res, r.finish(ctx, ts, model.Finish(model.FinishInterrupted, err.Error()), err)
		}

		state, err := r.state.LoadState(ctx, r.sessionID)
		if err != nil {
			return res, fmt.Errorf("load conversation state: %w", err)
		}

		instructions := r.controller.Decide(ec, state)
		if len(instructions) == 0 {
			return res, r.finish(ctx, ts, model.Finish(model.FinishErrorRecovery, "Controller returned no instruction"), nil)
		}
		if instructions[0].IsTerminal() {
			return res, r.finish(ctx, ts, instructions[0], nil)
		}
		if r.maxSteps > 0 && res.Steps+len(instructions) > r.maxSteps {
			logx.Warn().
				Str("session_id", r.sessionID).
				Str("turn_id", res.TurnID).
				Int("steps", res.Steps).
				Int("max_steps", r.maxSteps).
				Msg("Step limit reached - finishing turn")
			return res, r.finish(ctx, ts, model.Finish(model.FinishMaxStepsExceeded,
				fmt.Sprintf("Step limit of %d reached", r.maxSteps)), nil)
		}

		next, err := r.execute(ctx, ts, instructions)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, r.finish(ctx, ts, model.Finish(model.FinishInterrupted, ctxErr.Error()), err)
			}
			return res, err
		}
		ec = model.NewExecutionContext(next)
	}
}

// finish records the terminal instruction and answers every tool call left
// pending, so the stored history stays valid for the next turn. It returns
// cause, or the storage error when that fails.
func (r *Runtime) finish(ctx context.Context, ts *turnState, fin model.Instruction, cause error) error {
	res := ts.res
	res.Reason = fin.Reason
	res.ReasonDetail = fin.ReasonDetail
	res.Trace = append(res.Trace, fin)

	if len(ts.pending) > 0 {
		msgs := make([]*schema.Message, 0, len(ts.pending))
		for _, call := range ts.pending {
			msgs = append(msgs, toolMessage(model.SkippedToolResult(call, fin.ReasonDetail)))
		}
		// the turn may end because ctx was canceled; the history must still be repaired
		if err := r.state.SaveMessages(context.WithoutCancel(ctx), r.sessionID, msgs...); err != nil && cause == nil {
			cause = fmt.Errorf("save skipped tool results: %w", err)
		}
		logx.Debug().
			Str("session_id", r.sessionID).
			Str("turn_id", res.TurnID).
			Int("skipped", len(ts.pending)).
			Msg("Closed pending tool calls")
		ts.pending = nil
	}

	logx.Info().
		Str("session_id", r.sessionID).
		Str("turn_id", res.TurnID).
		Str("reason", string(fin.Reason)).
		Str("detail", fin.ReasonDetail).
		Int("steps", res.Steps).
		Float64("cost_usd", res.CostUSD).
		Msg("Turn finished")
	return cause
}

// execute runs one group of instructions and returns the payload of the next
// phase. Batch results of a split batch are merged in order into one payload.
func (r *Runtime) execute(ctx context.Context, ts *turnState, instructions []model.Instruction) (model.PhasePayload, error) {
	res := ts.res
	var (
		next  model.PhasePayload
		batch *model.ToolsBatchResultPayload
	)
	for _, in := range instructions {
		res.Steps++
		res.Trace = append(res.Trace, in)

		payload, err := r.step(ctx, ts, in)
		if err != nil {
			return nil, err
		}
		if b, ok := payload.(model.ToolsBatchResultPayload); ok {
			if batch == nil {
				batch = &model.ToolsBatchResultPayload{}
			}
			batch.Results = append(batch.Results, b.Results...)
			continue
		}
		next = payload
	}
	if batch != nil {
		next = *batch
	}
	return next, nil
}

func (r *Runtime) step(ctx context.Context, ts *turnState, in model.Instruction) (_ model.PhasePayload, err error) {
	res := ts.res
	ctx, span := r.tracer.Start(ctx, "agent.step", trace.WithAttributes(
		attribute.String("instruction", string(in.Type)),
		attribute.Int("step", res.Steps),
	))
	defer func() { telemetry.End(span, err) }()

	switch in.Type {
	case model.InstructionCallLLM:
		if in.Payload == nil {
			return nil, fmt.Errorf("call_llm instruction without payload")
		}
		out, err := r.models.Call(ctx, *in.Payload)
		if err != nil {
			return nil, fmt.Errorf("call llm: %w", err)
		}
		res.Content = out.Result.Content
		res.CostUSD += out.CostUSD
		msg := schema.AssistantMessage(out.Result.Content, out.Result.ToolCalls)
		if err := r.state.SaveMessages(ctx, r.sessionID, msg); err != nil {
			return nil, fmt.Errorf("save assistant message: %w", err)
		}
		ts.pending = model.ToolInvocationsFromCalls(out.Result.ToolCalls)
		return *out, nil

	case model.InstructionCallTool:
		if in.ToolCall == nil {
			return nil, fmt.Errorf("call_tool instruction without tool call")
		}
		out := r.tools.CallTool(ctx, *in.ToolCall)
		span.SetAttributes(attribute.Bool("tool_success", out.IsSuccess))
		if err := r.state.SaveMessages(ctx, r.sessionID, toolMessage(out)); err != nil {
			return nil, fmt.Errorf("save tool result: %w", err)
		}
		ts.answered(out)
		return out, nil

	case model.InstructionCallToolsBatch:
		out := r.tools.CallToolsBatch(ctx, in.ToolsCalling)
		span.SetAttributes(attribute.Int("tool_count", len(out.Results)))
		msgs := make([]*schema.Message, 0, len(out.Results))
		for _, tr := range out.Results {
			msgs = append(msgs, toolMessage(tr))
		}
		if err := r.state.SaveMessages(ctx, r.sessionID, msgs...); err != nil {
			return nil, fmt.Errorf("save tool results: %w", err)
		}
		ts.answered(out.Results...)
		return out, nil
	}
	return nil, fmt.Errorf("unexpected instruction %q", in.Type)
}

func toolMessage(tr model.ToolResultPayload) *schema.Message {
	msg := schema.ToolMessage(tr.Data, tr.ToolCallID)
	msg.Name = tr.ToolCall.Name
	return msg
}
