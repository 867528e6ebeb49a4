package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/conversations"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/executors"
	agentmodel "github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/observers"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/prompts"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/repo"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/runtime"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/tools"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/core"
	logx "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/logger"
	pkgredis "github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/redis"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/pkg/telemetry"
)

// AppConfig defines all configurable parameters of the agent runtime,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis   pkgredis.Config
	Tracing telemetry.Config

	// LLM provider
	APIKey         string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL        string `envconfig:"GEMINI_BASE_URL"`
	ThinkingBudget int32  `envconfig:"GEMINI_THINKING_BUDGET" default:"0"`

	// Agent configs
	LLM          agentmodel.LLMConfig
	Agent        agentmodel.AgentEnvConfig
	Conversation agentmodel.ConversationConfig
	Tool         agentmodel.ToolConfig

	// Session
	SessionID string `envconfig:"SESSION_ID"`
	UserID    string `envconfig:"USER_ID"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: envCfg.Environment, Level: envCfg.LogLevel})

	envCfg.Tracing.Environment = envCfg.Environment.String()
	shutdownTracing, err := telemetry.Init(ctx, envCfg.Tracing)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logx.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	// ====================================================
	// Conversation store: Redis when configured, memory otherwise
	var conversationRepo agentmodel.ConversationRepository
	if envCfg.Redis.Enabled() {
		rdb, err := envCfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		logx.Info().Msg("Connected to Redis successfully")
		conversationRepo = repo.NewRedisConversationRepository(rdb, envCfg.Conversation.TTL)
	} else {
		logx.Warn().Msg("REDIS_URL not set - conversations are kept in memory")
		conversationRepo = repo.NewMemoryConversationRepository()
	}

	// ====================================================
	// Executors
	chatModel, err := executors.NewGeminiChatModel(ctx, executors.GeminiConfig{
		APIKey:         envCfg.APIKey,
		BaseURL:        envCfg.BaseURL,
		Model:          envCfg.LLM.Model,
		MaxTokens:      envCfg.LLM.MaxTokens,
		Temperature:    envCfg.LLM.Temperature,
		ThinkingBudget: envCfg.ThinkingBudget,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat model")
	}
	models := executors.NewModelExecutor(
		map[string]model.BaseChatModel{executors.ProviderGoogle: chatModel},
		executors.WithModelCallbacks(observers.NewModelCallbacks()),
	)

	toolExec, err := executors.NewToolExecutor(ctx, tools.GetDefaultTools(), executors.ToolExecutorConfig{
		MaxParallel: envCfg.Tool.MaxParallel,
		Timeout:     envCfg.Tool.Timeout,
	}, observers.NewToolCallbacks())
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to register tools")
	}

	systemPrompt := envCfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.DefaultSystemPrompt()
	}
	manager := conversations.NewManager(conversationRepo, envCfg.Conversation, systemPrompt, toolExec.Infos(),
		conversations.WithPromptCallbacks(observers.NewPromptCallbacks()))

	// ====================================================
	// Controller and runtime
	sessionID := envCfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	turnCfg, err := agentmodel.BuildTurnConfig(sessionID, envCfg.UserID, envCfg.LLM, envCfg.Agent)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build turn config")
	}
	controller, err := runtime.NewController(turnCfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create controller")
	}
	rt, err := runtime.NewRuntime(runtime.RuntimeConfig{
		Controller: controller,
		State:      manager,
		Models:     models,
		Tools:      toolExec,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create runtime")
	}

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Greeting",
			query:       "Hi! What can you help me with?",
		},
		{
			description: "Single tool call",
			query:       "What time is it in Asia/Shanghai right now?",
		},
		{
			description: "Parallel tool calls",
			query:       "Compute 1234 * 5678 and 2 to the power of 20, and tell me the current UTC time.",
		},
		{
			description: "Follow-up using history",
			query:       "Add the two numbers you just computed.",
		},
	}

	logx.Info().Str("session_id", sessionID).Msg("Starting demo turns")

	for i, test := range testQueries {
		fmt.Printf("\n🚀 Test %d: %s\n", i+1, test.description)
		fmt.Printf("Query: \"%s\"\n", test.query)

		res, err := rt.RunTurn(ctx, test.query)
		if err != nil {
			if ctx.Err() != nil {
				logx.Warn().Err(err).Msg("Interrupted")
				return
			}
			logx.Error().Err(err).Int("test", i+1).Msg("Turn failed")
			continue
		}

		fmt.Printf("✅ Response %d (%s, %d steps, $%.6f): %s\n", i+1, res.Reason, res.Steps, res.CostUSD, res.Content)
		fmt.Println("───────────────────────────────────────────────")
	}

	fmt.Println("🎉 All demo turns completed!")
}
