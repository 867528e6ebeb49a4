package model

import (
	"github.com/cloudwego/eino/schema"
	"github.com/mohae/deepcopy"
)

// ModelRuntimeConfig selects the model and provider targeted by call_llm.
type ModelRuntimeConfig struct {
	Model    string `json:"model" yaml:"model"`
	Provider string `json:"provider" yaml:"provider"`
}

// AgentConfig holds agent options. MaxSteps is enforced by the runtime, not the
// controller; Options keeps any extra keys found in the options file.
type AgentConfig struct {
	MaxSteps int            `json:"maxSteps" yaml:"maxSteps"`
	Options  map[string]any `json:"options,omitempty" yaml:",inline"`
}

// DispatchPolicy decides how tool calls from one model answer are grouped.
// The zero value sends a single call as call_tool and several as one batch.
type DispatchPolicy struct {
	AlwaysBatch  bool `json:"alwaysBatch" yaml:"alwaysBatch"`
	MaxBatchSize int  `json:"maxBatchSize" yaml:"maxBatchSize"`
}

// TurnConfig is the per-session configuration captured when a controller is built.
type TurnConfig struct {
	SessionID    string
	UserID       string
	ModelRuntime *ModelRuntimeConfig
	Agent        *AgentConfig
	Dispatch     DispatchPolicy
}

// Clone returns a deep copy so callers cannot mutate a controller's config.
func (c TurnConfig) Clone() TurnConfig {
	out := c
	if c.ModelRuntime != nil {
		mr := *c.ModelRuntime
		out.ModelRuntime = &mr
	}
	if c.Agent != nil {
		ag := *c.Agent
		if c.Agent.Options != nil {
			ag.Options = deepcopy.Copy(c.Agent.Options).(map[string]any)
		}
		out.Agent = &ag
	}
	return out
}

// Model returns the configured model name, or "" when none is set.
func (c TurnConfig) Model() string {
	if c.ModelRuntime == nil {
		return ""
	}
	return c.ModelRuntime.Model
}

// Provider returns the configured provider, or "" when none is set.
func (c TurnConfig) Provider() string {
	if c.ModelRuntime == nil {
		return ""
	}
	return c.ModelRuntime.Provider
}

// MaxSteps returns the step limit, 0 meaning unlimited.
func (c TurnConfig) MaxSteps() int {
	if c.Agent == nil || c.Agent.MaxSteps < 0 {
		return 0
	}
	return c.Agent.MaxSteps
}

// ConversationState is the read-only view of a session the controller decides on.
type ConversationState struct {
	Messages []*schema.Message
	Tools    []*schema.ToolInfo
}
