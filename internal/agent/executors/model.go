package executors

import (
	"context"
	"fmt"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	errx "github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/core/error"
	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
)

// ModelExecutor runs call_llm instructions against chat models registered per provider.
type ModelExecutor struct {
	providers map[string]einomodel.BaseChatModel
	handlers  []einocb.Handler
	pricing   func(modelName string) model.Pricing
}

type ModelExecutorOption func(*ModelExecutor)

// WithModelCallbacks attaches eino callback handlers to every model call.
func WithModelCallbacks(handlers ...einocb.Handler) ModelExecutorOption {
	return func(e *ModelExecutor) {
		e.handlers = append(e.handlers, handlers...)
	}
}

// WithPricing overrides the pricing table used for cost accounting.
func WithPricing(fn func(modelName string) model.Pricing) ModelExecutorOption {
	return func(e *ModelExecutor) {
		if fn != nil {
			e.pricing = fn
		}
	}
}

func NewModelExecutor(providers map[string]einomodel.BaseChatModel, opts ...ModelExecutorOption) *ModelExecutor {
	e := &ModelExecutor{
		providers: make(map[string]einomodel.BaseChatModel, len(providers)),
		pricing:   model.ResolvePricing,
	}
	for name, cm := range providers {
		e.providers[name] = cm
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call sends the payload to the provider's chat model and converts the answer
// into the llm_result payload for the next phase.
func (e *ModelExecutor) Call(ctx context.Context, payload model.CallLLMPayload) (*model.LLMResultPayload, error) {
	cm, ok := e.providers[payload.Provider]
	if !ok {
		return nil, errx.WrapModel(fmt.Errorf("%w: %q", errx.ErrUnknownProvider, payload.Provider))
	}

	var opts []einomodel.Option
	if len(payload.Tools) > 0 {
		opts = append(opts, einomodel.WithTools(payload.Tools))
	}
	if payload.Model != "" {
		opts = append(opts, einomodel.WithModel(payload.Model))
	}

	if len(e.handlers) > 0 {
		ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{
			Name:      payload.Model,
			Type:      payload.Provider,
			Component: components.ComponentOfChatModel,
		}, e.handlers...)
	}

	out, err := cm.Generate(ctx, payload.Messages, opts...)
	if err != nil {
		logx.Error().Err(err).Str("provider", payload.Provider).Str("model", payload.Model).Msg("Model call failed")
		return nil, errx.WrapModel(err)
	}
	if out == nil {
		return nil, errx.WrapModel(fmt.Errorf("provider %q returned no message", payload.Provider))
	}

	toolCalls := normalizeToolCalls(out.ToolCalls)
	result := &model.LLMResultPayload{
		HasToolsCalling: len(toolCalls) > 0,
		Result: model.LLMResult{
			Content:   out.Content,
			ToolCalls: toolCalls,
		},
		ToolsCalling: model.ToolInvocationsFromCalls(toolCalls),
	}

	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		usage := out.ResponseMeta.Usage
		inC, outC, totalC := model.ComputeCost(usage, e.pricing(payload.Model))
		result.Usage = usage
		result.CostUSD = totalC
		logx.Debug().
			Str("provider", payload.Provider).
			Str("model", payload.Model).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Int("total_tokens", usage.TotalTokens).
			Float64("input_cost_usd", inC).
			Float64("output_cost_usd", outC).
			Float64("total_cost_usd", totalC).
			Msg("LLM usage")
	}

	return result, nil
}

// normalizeToolCalls fills in IDs some providers omit, so tool results can be
// matched to their call. The input slice is not modified.
func normalizeToolCalls(calls []schema.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" {
			out[i].ID = "call_" + ulid.Make().String()
		}
		if out[i].Type == "" {
			out[i].Type = "function"
		}
	}
	return out
}
