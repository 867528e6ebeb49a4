package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/system_prompt.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in system prompt template.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// SystemVars are the values available to a system prompt template.
type SystemVars struct {
	SessionID string
	Tools     []string
	Date      string
}

// RenderSystem renders a Go-template system prompt through the Eino prompt
// component, so prompt callbacks attached to ctx fire.
func RenderSystem(ctx context.Context, tmpl string, vars SystemVars) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(tmpl),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"SessionID": vars.SessionID,
		"Tools":     vars.Tools,
		"Date":      vars.Date,
	})
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
