package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolGetCurrentTime = "get_current_time"
	ToolCalculate      = "calculate"
)

// GetDefaultTools returns the built-in tools offered to the model.
func GetDefaultTools() []tool.BaseTool {
	return []tool.BaseTool{
		createCurrentTimeTool(nil),
		createCalculateTool(),
	}
}

// GetToolInfos collects the schema of every tool, in order.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
