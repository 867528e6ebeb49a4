package executors

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
)

// ProviderGoogle is the provider name Gemini chat models register under.
const ProviderGoogle = "google"

// GeminiConfig holds what is needed to create a Gemini chat model.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float32
	ThinkingBudget int32
}

// NewGeminiChatModel creates a Gemini chat model backed by the genai client.
func NewGeminiChatModel(ctx context.Context, config GeminiConfig) (*gemini.ChatModel, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	cfg := &gemini.Config{
		Client:      client,
		Model:       config.Model,
		Temperature: &config.Temperature,
		MaxTokens:   &config.MaxTokens,
	}
	if config.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(config.ThinkingBudget),
		}
	}

	chatModel, err := gemini.NewChatModel(ctx, cfg)
	if err != nil {
		logx.Error().Err(err).Str("model", config.Model).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}

	logx.Debug().Str("model", config.Model).Msg("Gemini chat model ready")
	return chatModel, nil
}
