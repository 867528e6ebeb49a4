package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage appends messages to the history of the given session
	AddMessage(ctx context.Context, sessionID string, messages ...*schema.Message) error

	// LoadHistory retrieves the ordered message history of a session
	LoadHistory(ctx context.Context, sessionID string) (*ConversationHistory, error)

	// ClearHistory removes all messages of a session
	ClearHistory(ctx context.Context, sessionID string) error

	// GetMessageCount returns the number of messages stored for a session
	GetMessageCount(ctx context.Context, sessionID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	SessionID string
	Messages  []*schema.Message
}
