package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/conversations"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/executors"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/repo"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/tools"
)

// scriptedModel answers call_llm instructions from a fixed script.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []*schema.Message
	err      error
	calls    int
	payloads []model.CallLLMPayload
	onCall   func(n int)
}

func (m *scriptedModel) Call(_ context.Context, p model.CallLLMPayload) (*model.LLMResultPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, p)
	n := m.calls
	m.calls++
	if m.onCall != nil {
		m.onCall(n)
	}
	if m.err != nil {
		return nil, m.err
	}
	if n >= len(m.replies) {
		return &model.LLMResultPayload{Result: model.LLMResult{Content: "done"}}, nil
	}
	msg := m.replies[n]
	return &model.LLMResultPayload{
		HasToolsCalling: len(msg.ToolCalls) > 0,
		Result:          model.LLMResult{Content: msg.Content, ToolCalls: msg.ToolCalls},
		ToolsCalling:    model.ToolInvocationsFromCalls(msg.ToolCalls),
		CostUSD:         0.5,
	}, nil
}

// recordingTools echoes every call and remembers how it was dispatched.
type recordingTools struct {
	mu      sync.Mutex
	single  []string
	batches [][]string
}

func (r *recordingTools) CallTool(_ context.Context, call model.ToolInvocation) model.ToolResultPayload {
	r.mu.Lock()
	r.single = append(r.single, call.ID)
	r.mu.Unlock()
	return model.ToolResultPayload{ToolCall: call, ToolCallID: call.ID, Data: `"` + call.Name + `"`, IsSuccess: true}
}

func (r *recordingTools) CallToolsBatch(ctx context.Context, calls []model.ToolInvocation) model.ToolsBatchResultPayload {
	r.mu.Lock()
	r.batches = append(r.batches, ids(calls))
	r.mu.Unlock()
	out := model.ToolsBatchResultPayload{}
	for _, c := range calls {
		out.Results = append(out.Results, model.ToolResultPayload{ToolCall: c, ToolCallID: c.ID, Data: `"` + c.Name + `"`, IsSuccess: true})
	}
	return out
}

type harness struct {
	runtime *Runtime
	repo    *repo.MemoryConversationRepository
	spans   *tracetest.SpanRecorder
}

func newHarness(t *testing.T, cfg model.TurnConfig, models ModelExecutor, toolExec ToolExecutor) *harness {
	t.Helper()
	c, err := NewController(cfg)
	require.NoError(t, err)

	mem := repo.NewMemoryConversationRepository()
	infos, err := tools.GetToolInfos(context.Background(), tools.GetDefaultTools())
	require.NoError(t, err)
	mgr := conversations.NewManager(mem, model.ConversationConfig{MaxHistory: 50}, "You are helpful.", infos)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rt, err := NewRuntime(RuntimeConfig{
		Controller: c,
		State:      mgr,
		Models:     models,
		Tools:      toolExec,
		Tracer:     tp.Tracer("test"),
	})
	require.NoError(t, err)
	return &harness{runtime: rt, repo: mem, spans: sr}
}

func turnConfig(maxSteps int, dispatch model.DispatchPolicy) model.TurnConfig {
	return model.TurnConfig{
		SessionID:    "session-rt",
		ModelRuntime: &model.ModelRuntimeConfig{Model: "gemini-2.5-flash", Provider: "google"},
		Agent:        &model.AgentConfig{MaxSteps: maxSteps},
		Dispatch:     dispatch,
	}
}

func history(t *testing.T, h *harness) []*schema.Message {
	t.Helper()
	hist, err := h.repo.LoadHistory(context.Background(), "session-rt")
	require.NoError(t, err)
	return hist.Messages
}

func traceTypes(res *TurnResult) []string {
	out := make([]string, len(res.Trace))
	for i, in := range res.Trace {
		out[i] = string(in.Type)
	}
	return out
}

func TestNewRuntimeValidation(t *testing.T) {
	c := newTestController(t, model.DispatchPolicy{})
	mgr := conversations.NewManager(repo.NewMemoryConversationRepository(), model.ConversationConfig{}, "", nil)

	cases := map[string]RuntimeConfig{
		"controller":     {State: mgr, Models: &scriptedModel{}, Tools: &recordingTools{}},
		"state store":    {Controller: c, Models: &scriptedModel{}, Tools: &recordingTools{}},
		"model executor": {Controller: c, State: mgr, Tools: &recordingTools{}},
		"tool executor":  {Controller: c, State: mgr, Models: &scriptedModel{}},
	}
	for missing, cfg := range cases {
		_, err := NewRuntime(cfg)
		assert.ErrorContains(t, err, missing, missing)
	}

	rt, err := NewRuntime(RuntimeConfig{Controller: c, State: mgr, Models: &scriptedModel{}, Tools: &recordingTools{}})
	require.NoError(t, err)
	assert.NotNil(t, rt.tracer)
}

func TestRunTurnPlainAnswer(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{schema.AssistantMessage("Hello!", nil)}}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), models, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	assert.NotEmpty(t, res.TurnID)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, "Hello!", res.Content)
	assert.Equal(t, 1, res.Steps)
	assert.InDelta(t, 0.5, res.CostUSD, 1e-9)
	assert.Equal(t, []string{"call_llm", "finish"}, traceTypes(res))

	require.Len(t, models.payloads, 1)
	p := models.payloads[0]
	assert.Equal(t, "gemini-2.5-flash", p.Model)
	assert.Equal(t, "google", p.Provider)
	require.Len(t, p.Messages, 2)
	assert.Equal(t, schema.System, p.Messages[0].Role)
	assert.Equal(t, "hi", p.Messages[1].Content)
	assert.Len(t, p.Tools, 2)

	msgs := history(t, h)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[1].Role)

	names := make([]string, 0)
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"agent.step", "agent.turn"}, names)
}

func TestRunTurnSingleToolWithRealExecutor(t *testing.T) {
	toolExec, err := executors.NewToolExecutor(context.Background(), tools.GetDefaultTools(), executors.ToolExecutorConfig{})
	require.NoError(t, err)

	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "c1",
			Function: schema.FunctionCall{Name: tools.ToolCalculate, Arguments: `{"operation":"multiply","a":6,"b":7}`},
		}}),
		schema.AssistantMessage("6 * 7 = 42", nil),
	}}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), models, toolExec)

	res, err := h.runtime.RunTurn(context.Background(), "what is 6*7?")
	require.NoError(t, err)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, "6 * 7 = 42", res.Content)
	assert.Equal(t, []string{"call_llm", "call_tool", "call_llm", "finish"}, traceTypes(res))
	assert.Equal(t, 3, res.Steps)

	msgs := history(t, h)
	require.Len(t, msgs, 4)
	toolMsg := msgs[2]
	assert.Equal(t, schema.Tool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, tools.ToolCalculate, toolMsg.Name)
	assert.Contains(t, toolMsg.Content, `"result":42`)

	// the second model call sees the tool answer
	require.Len(t, models.payloads, 2)
	last := models.payloads[1].Messages
	assert.Equal(t, schema.Tool, last[len(last)-1].Role)
}

func TestRunTurnBatch(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", calls("a", "b", "c")),
		schema.AssistantMessage("all done", nil),
	}}
	rec := &recordingTools{}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), models, rec)

	res, err := h.runtime.RunTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, []string{"call_llm", "call_tools_batch", "call_llm", "finish"}, traceTypes(res))
	assert.Empty(t, rec.single)
	assert.Equal(t, [][]string{{"call_a", "call_b", "call_c"}}, rec.batches)

	msgs := history(t, h)
	var toolIDs []string
	for _, m := range msgs {
		if m.Role == schema.Tool {
			toolIDs = append(toolIDs, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call_a", "call_b", "call_c"}, toolIDs)
}

func TestRunTurnSplitBatchesMerge(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", calls("a", "b", "c", "d", "e")),
		schema.AssistantMessage("merged", nil),
	}}
	rec := &recordingTools{}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{MaxBatchSize: 2}), models, rec)

	res, err := h.runtime.RunTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, [][]string{{"call_a", "call_b"}, {"call_c", "call_d"}, {"call_e"}}, rec.batches)
	assert.Equal(t, 5, res.Steps)
	assert.Equal(t, []string{
		"call_llm", "call_tools_batch", "call_tools_batch", "call_tools_batch", "call_llm", "finish",
	}, traceTypes(res))
}

func TestRunTurnMaxSteps(t *testing.T) {
	// the model keeps asking for a tool
	loop := make([]*schema.Message, 10)
	for i := range loop {
		loop[i] = schema.AssistantMessage("", calls("again"))
	}
	models := &scriptedModel{replies: loop}
	h := newHarness(t, turnConfig(3, model.DispatchPolicy{}), models, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "loop")
	require.NoError(t, err)
	assert.Equal(t, model.FinishMaxStepsExceeded, res.Reason)
	assert.Equal(t, 3, res.Steps)
	assert.Contains(t, res.ReasonDetail, "3")
	assert.Equal(t, model.InstructionFinish, res.Trace[len(res.Trace)-1].Type)
}

// requireToolCallsAnswered fails when an assistant tool call is not followed by
// a tool message carrying its ID before the next non-tool message.
func requireToolCallsAnswered(t *testing.T, msgs []*schema.Message) {
	t.Helper()
	for i, m := range msgs {
		if m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		replied := map[string]bool{}
		for _, next := range msgs[i+1:] {
			if next.Role != schema.Tool {
				break
			}
			replied[next.ToolCallID] = true
		}
		for _, tc := range m.ToolCalls {
			require.True(t, replied[tc.ID], "message %d: tool call %s has no reply", i, tc.ID)
		}
	}
}

func TestRunTurnAfterMaxStepsKeepsHistoryValid(t *testing.T) {
	loop := make([]*schema.Message, 4)
	for i := range loop {
		loop[i] = schema.AssistantMessage("", calls("again"))
	}
	models := &scriptedModel{replies: loop}
	h := newHarness(t, turnConfig(3, model.DispatchPolicy{}), models, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "loop")
	require.NoError(t, err)
	require.Equal(t, model.FinishMaxStepsExceeded, res.Reason)

	msgs := history(t, h)
	requireToolCallsAnswered(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call_again", last.ToolCallID)
	assert.Contains(t, last.Content, `"error":"skipped"`)

	_, err = h.runtime.RunTurn(context.Background(), "next question")
	require.NoError(t, err)

	second := models.payloads[2].Messages
	assert.Equal(t, "next question", second[len(second)-1].Content)
	requireToolCallsAnswered(t, second)
}

func TestRunTurnMaxStepsCountsWholeGroup(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", calls("a", "b", "c", "d")),
	}}
	rec := &recordingTools{}
	h := newHarness(t, turnConfig(2, model.DispatchPolicy{MaxBatchSize: 2}), models, rec)

	res, err := h.runtime.RunTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, model.FinishMaxStepsExceeded, res.Reason)
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, rec.batches)

	msgs := history(t, h)
	requireToolCallsAnswered(t, msgs)
	assert.Len(t, msgs, 6)
}

func TestRunTurnUnlimitedSteps(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", calls("a")),
		schema.AssistantMessage("", calls("b")),
		schema.AssistantMessage("", calls("c")),
	}}
	h := newHarness(t, turnConfig(0, model.DispatchPolicy{}), models, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, 7, res.Steps)
	assert.Equal(t, "done", res.Content)
}

func TestRunTurnEmptyToolCalls(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{{Role: schema.Assistant, Content: "hmm"}}}
	// flag tool calling without any call
	flagged := &flaggingModel{scriptedModel: models}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), flagged, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, model.FinishCompleted, res.Reason)
	assert.Equal(t, "Model flagged tool calls but returned none", res.ReasonDetail)
}

type flaggingModel struct{ *scriptedModel }

func (f *flaggingModel) Call(ctx context.Context, p model.CallLLMPayload) (*model.LLMResultPayload, error) {
	out, err := f.scriptedModel.Call(ctx, p)
	if out != nil {
		out.HasToolsCalling = true
	}
	return out, err
}

func TestRunTurnModelError(t *testing.T) {
	boom := errors.New("provider unavailable")
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), &scriptedModel{err: boom}, &recordingTools{})

	res, err := h.runtime.RunTurn(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 1, res.Steps)

	var failed bool
	for _, s := range h.spans.Ended() {
		if s.Name() == "agent.turn" {
			failed = s.Status().Code.String() == "Error"
		}
	}
	assert.True(t, failed)
}

func TestRunTurnCanceledBeforeStart(t *testing.T) {
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), &scriptedModel{}, &recordingTools{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.runtime.RunTurn(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.FinishInterrupted, res.Reason)
	assert.Zero(t, res.Steps)
}

func TestRunTurnCanceledMidTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	models := &scriptedModel{
		replies: []*schema.Message{schema.AssistantMessage("", calls("a"))},
		onCall: func(n int) {
			if n == 0 {
				cancel()
			}
		},
	}
	rec := &recordingTools{}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), models, rec)

	res, err := h.runtime.RunTurn(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.FinishInterrupted, res.Reason)
	assert.True(t, strings.Contains(res.ReasonDetail, "canceled"))
	assert.Empty(t, rec.single)

	msgs := history(t, h)
	requireToolCallsAnswered(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Content, `"error":"skipped"`)
}

func TestRunTurnKeepsHistoryAcrossTurns(t *testing.T) {
	models := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("first", nil),
		schema.AssistantMessage("second", nil),
	}}
	h := newHarness(t, turnConfig(10, model.DispatchPolicy{}), models, &recordingTools{})

	_, err := h.runtime.RunTurn(context.Background(), "one")
	require.NoError(t, err)
	res, err := h.runtime.RunTurn(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "second", res.Content)

	require.Len(t, models.payloads, 2)
	// system + one + first + two
	assert.Len(t, models.payloads[1].Messages, 4)
	assert.Len(t, history(t, h), 4)
}
