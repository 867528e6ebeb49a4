package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// agentOptionsFile is the YAML layout of AGENT_OPTIONS_FILE.
type agentOptionsFile struct {
	Model    *ModelRuntimeConfig `yaml:"model"`
	Dispatch *DispatchPolicy     `yaml:"dispatch"`
	Agent    AgentConfig         `yaml:"agent"`
}

// ParseAgentOptions decodes an options document. Unknown keys under "agent" are
// kept in AgentConfig.Options.
func ParseAgentOptions(data []byte) (*ModelRuntimeConfig, *DispatchPolicy, *AgentConfig, error) {
	var f agentOptionsFile
	if err := decodeAgentOptions(data, &f); err != nil {
		return nil, nil, nil, err
	}
	return f.Model, f.Dispatch, &f.Agent, nil
}

// decodeAgentOptions decodes data over f. Keys absent from the document leave
// the values already in f untouched.
func decodeAgentOptions(data []byte, f *agentOptionsFile) error {
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("decode agent options: %w", err)
	}
	if f.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.maxSteps must not be negative, got %d", f.Agent.MaxSteps)
	}
	return nil
}

// BuildTurnConfig assembles a TurnConfig from env config and, when set, the
// options file. Every key present in the file overrides the env value of that
// field, so `maxSteps: 0` disables the limit; empty model or provider strings
// keep the env value.
func BuildTurnConfig(sessionID, userID string, llm LLMConfig, env AgentEnvConfig) (TurnConfig, error) {
	f := agentOptionsFile{
		Model:    &ModelRuntimeConfig{Model: llm.Model, Provider: llm.Provider},
		Dispatch: &DispatchPolicy{AlwaysBatch: env.AlwaysBatch, MaxBatchSize: env.MaxBatchSize},
		Agent:    AgentConfig{MaxSteps: env.MaxSteps},
	}

	if env.OptionsFile != "" {
		data, err := os.ReadFile(env.OptionsFile)
		if err != nil {
			return TurnConfig{}, fmt.Errorf("read agent options %s: %w", env.OptionsFile, err)
		}
		if err := decodeAgentOptions(data, &f); err != nil {
			return TurnConfig{}, err
		}
	}

	mr := ModelRuntimeConfig{Model: llm.Model, Provider: llm.Provider}
	if f.Model != nil {
		if f.Model.Model != "" {
			mr.Model = f.Model.Model
		}
		if f.Model.Provider != "" {
			mr.Provider = f.Model.Provider
		}
	}
	dispatch := DispatchPolicy{AlwaysBatch: env.AlwaysBatch, MaxBatchSize: env.MaxBatchSize}
	if f.Dispatch != nil {
		dispatch = *f.Dispatch
	}
	agent := f.Agent

	return TurnConfig{
		SessionID:    sessionID,
		UserID:       userID,
		ModelRuntime: &mr,
		Agent:        &agent,
		Dispatch:     dispatch,
	}, nil
}
