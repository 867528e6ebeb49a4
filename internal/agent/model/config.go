package model

import "time"

// ================ Config ================
type AgentEnvConfig struct {
	MaxSteps     int    `envconfig:"AGENT_MAX_STEPS" default:"20"`
	OptionsFile  string `envconfig:"AGENT_OPTIONS_FILE"`
	AlwaysBatch  bool   `envconfig:"AGENT_ALWAYS_BATCH" default:"false"`
	MaxBatchSize int    `envconfig:"AGENT_MAX_BATCH_SIZE" default:"0"`
}

type LLMConfig struct {
	Provider     string  `envconfig:"LLM_PROVIDER" default:"google"`
	Model        string  `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	MaxTokens    int     `envconfig:"LLM_MAX_TOKENS" default:"2000"`
	Temperature  float32 `envconfig:"LLM_TEMPERATURE" default:"0.4"`
	SystemPrompt string  `envconfig:"LLM_SYSTEM_PROMPT"`
}

type ConversationConfig struct {
	TTL        time.Duration `envconfig:"CONVERSATION_TTL" default:"15m"`
	MaxHistory int           `envconfig:"CONVERSATION_MAX_HISTORY" default:"50"`
}

type ToolConfig struct {
	MaxParallel int           `envconfig:"TOOL_MAX_PARALLEL" default:"4"`
	Timeout     time.Duration `envconfig:"TOOL_TIMEOUT" default:"30s"`
}
