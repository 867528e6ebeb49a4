package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
)

const (
	DefaultMaxParallel = 4
	DefaultToolTimeout = 30 * time.Second
)

// ToolExecutorConfig bounds tool execution. Zero values fall back to defaults.
type ToolExecutorConfig struct {
	MaxParallel int
	Timeout     time.Duration
}

type registeredTool struct {
	info   *schema.ToolInfo
	tool   tool.InvokableTool
	schema *jsonschema.Schema
}

// ToolExecutor runs call_tool and call_tools_batch instructions against a
// registry of eino invokable tools.
type ToolExecutor struct {
	tools       map[string]*registeredTool
	infos       []*schema.ToolInfo
	maxParallel int
	timeout     time.Duration
	handlers    []einocb.Handler
}

// NewToolExecutor registers the given tools. Every tool must be invokable and
// carry a unique name.
func NewToolExecutor(ctx context.Context, tools []tool.BaseTool, cfg ToolExecutorConfig, handlers ...einocb.Handler) (*ToolExecutor, error) {
	e := &ToolExecutor{
		tools:       make(map[string]*registeredTool, len(tools)),
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.Timeout,
		handlers:    handlers,
	}
	if e.maxParallel <= 0 {
		e.maxParallel = DefaultMaxParallel
	}
	if e.timeout <= 0 {
		e.timeout = DefaultToolTimeout
	}

	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		inv, ok := t.(tool.InvokableTool)
		if !ok {
			return nil, fmt.Errorf("tool %q is not invokable", info.Name)
		}
		if _, dup := e.tools[info.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", info.Name)
		}
		sch, err := compileToolSchema(info)
		if err != nil {
			return nil, fmt.Errorf("compile schema for tool %q: %w", info.Name, err)
		}
		e.tools[info.Name] = &registeredTool{info: info, tool: inv, schema: sch}
		e.infos = append(e.infos, info)
	}
	return e, nil
}

// Infos returns the catalog of registered tools in registration order.
func (e *ToolExecutor) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(e.infos))
	copy(out, e.infos)
	return out
}

// CallTool runs one tool call. Failures are reported through IsSuccess and a
// JSON error document in Data.
func (e *ToolExecutor) CallTool(ctx context.Context, call model.ToolInvocation) model.ToolResultPayload {
	start := time.Now()
	res := model.ToolResultPayload{
		ToolCall:   call,
		ToolCallID: call.ID,
	}

	data, err := e.invoke(ctx, call)
	res.ExecutionTime = time.Since(start)
	if err != nil {
		logx.Warn().
			Err(err).
			Str("tool", call.Name).
			Str("tool_call_id", call.ID).
			Dur("elapsed", res.ExecutionTime).
			Msg("Tool call failed")
		res.Data = failureData(call.Name, err)
		return res
	}

	res.Data = data
	res.IsSuccess = true
	return res
}

// CallToolsBatch runs calls concurrently, at most MaxParallel at a time, and
// returns their results in call order.
func (e *ToolExecutor) CallToolsBatch(ctx context.Context, calls []model.ToolInvocation) model.ToolsBatchResultPayload {
	results := make([]model.ToolResultPayload, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.CallTool(gctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return model.ToolsBatchResultPayload{Results: results}
}

func (e *ToolExecutor) invoke(ctx context.Context, call model.ToolInvocation) (string, error) {
	rt, ok := e.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnknownTool, call.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args, err := sanitizeArguments(call.Arguments)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	if err := validateArguments(rt.schema, args); err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidArguments, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if len(e.handlers) > 0 {
		ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{
			Name:      call.Name,
			Type:      call.Type,
			Component: components.ComponentOfTool,
		}, e.handlers...)
		ctx = einocb.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})
	}

	out, err := rt.tool.InvokableRun(ctx, args)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if len(e.handlers) > 0 {
		if err != nil {
			einocb.OnError(ctx, err)
		} else {
			einocb.OnEnd(ctx, &tool.CallbackOutput{Response: out})
		}
	}
	return out, err
}

var (
	errUnknownTool      = errors.New("unknown tool")
	errInvalidArguments = errors.New("invalid arguments")
)

func failureData(name string, err error) string {
	kind := model.ToolErrorExecution
	switch {
	case errors.Is(err, errUnknownTool):
		kind = model.ToolErrorUnknownTool
	case errors.Is(err, errInvalidArguments):
		kind = model.ToolErrorInvalidArguments
	case errors.Is(err, context.DeadlineExceeded):
		kind = model.ToolErrorTimeout
	case errors.Is(err, context.Canceled):
		kind = model.ToolErrorCanceled
	}
	return model.ToolFailureData(name, kind, err.Error())
}

// sanitizeArguments trims whitespace around string values of the top-level
// argument object. Empty input becomes "{}". Numbers are kept as written.
func sanitizeArguments(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}", nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errors.New("unexpected data after arguments object")
	}
	if args == nil {
		return "{}", nil
	}
	for k, v := range args {
		if s, ok := v.(string); ok {
			args[k] = strings.TrimSpace(s)
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func compileToolSchema(info *schema.ToolInfo) (*jsonschema.Schema, error) {
	if info.ParamsOneOf == nil {
		return nil, nil
	}
	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	if js == nil {
		return nil, nil
	}
	b, err := json.Marshal(js)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("tool.json")
}

func validateArguments(sch *jsonschema.Schema, args string) error {
	if sch == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
