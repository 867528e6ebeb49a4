package conversations

import (
	"context"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/schema"

	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/model"
	"github.com/aliku110/lobe-chat-AIjiaohupingtai/internal/agent/prompts"
)

// Manager builds the ConversationState for a session from its stored history
// and records the messages a turn produces.
type Manager struct {
	conversationRepo model.ConversationRepository
	systemPrompt     string
	maxHistory       int
	tools            []*schema.ToolInfo
	promptHandlers   []einocb.Handler
	now              func() time.Time
}

type ManagerOption func(*Manager)

// WithPromptCallbacks attaches eino callback handlers to system prompt rendering.
func WithPromptCallbacks(handlers ...einocb.Handler) ManagerOption {
	return func(m *Manager) {
		m.promptHandlers = append(m.promptHandlers, handlers...)
	}
}

// NewManager creates a Manager. systemPrompt is a Go template rendered with
// prompts.SystemVars on every load; an empty prompt adds no system message.
func NewManager(
	conversationRepo model.ConversationRepository,
	config model.ConversationConfig,
	systemPrompt string,
	tools []*schema.ToolInfo,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		conversationRepo: conversationRepo,
		systemPrompt:     systemPrompt,
		maxHistory:       config.MaxHistory,
		tools:            tools,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) SaveUserInput(ctx context.Context, sessionID string, input string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is empty")
	}
	return m.conversationRepo.AddMessage(ctx, sessionID, schema.UserMessage(input))
}

func (m *Manager) SaveMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return m.conversationRepo.AddMessage(ctx, sessionID, messages...)
}

// LoadState returns the system prompt followed by the most recent history and
// the tool catalog offered to the model.
func (m *Manager) LoadState(ctx context.Context, sessionID string) (model.ConversationState, error) {
	history, err := m.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		return model.ConversationState{}, err
	}

	recent := trimTail(history.Messages, m.maxHistory)
	messages := make([]*schema.Message, 0, len(recent)+1)
	if m.systemPrompt != "" {
		system, err := m.renderSystem(ctx, sessionID)
		if err != nil {
			return model.ConversationState{}, err
		}
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, recent...)

	return model.ConversationState{Messages: messages, Tools: m.tools}, nil
}

// Tools returns the tool catalog handed to the model.
func (m *Manager) Tools() []*schema.ToolInfo {
	return m.tools
}

func (m *Manager) renderSystem(ctx context.Context, sessionID string) (string, error) {
	if len(m.promptHandlers) > 0 {
		ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{
			Name:      "system_prompt",
			Component: components.ComponentOfPrompt,
		}, m.promptHandlers...)
	}
	names := make([]string, 0, len(m.tools))
	for _, t := range m.tools {
		if t != nil {
			names = append(names, t.Name)
		}
	}
	return prompts.RenderSystem(ctx, m.systemPrompt, prompts.SystemVars{
		SessionID: sessionID,
		Tools:     names,
		Date:      m.now().Format("2006-01-02"),
	})
}

// ====================== Helper function ======================

// trimTail keeps the last maxMessages messages. A window never opens on a tool
// message, since its assistant tool call would have been cut off.
func trimTail(messages []*schema.Message, maxMessages int) []*schema.Message {
	start := 0
	if maxMessages > 0 && len(messages) > maxMessages {
		start = len(messages) - maxMessages
	}
	for start < len(messages) && messages[start] != nil && messages[start].Role == schema.Tool {
		start++
	}
	result := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		if msg != nil {
			result = append(result, msg)
		}
	}
	return result
}
