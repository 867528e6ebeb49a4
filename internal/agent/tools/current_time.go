package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// ===================================
// Current Time Tool
// ===================================

type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty"`
}

type CurrentTimeOutput struct {
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
	Unix     int64  `json:"unix"`
}

// createCurrentTimeTool builds the tool; now may be nil to use the wall clock.
func createCurrentTimeTool(now func() time.Time) tool.InvokableTool {
	if now == nil {
		now = time.Now
	}
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetCurrentTime,
			Desc: "Get the current date and time. Use this whenever the user asks about the current time, today's date, or the time in a given city or timezone.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"timezone": {
					Type: "string",
					Desc: "IANA timezone name such as Asia/Shanghai, Europe/Berlin or UTC. Defaults to UTC.",
				},
			}),
		},
		func(ctx context.Context, in *CurrentTimeInput) (*CurrentTimeOutput, error) {
			tz := strings.TrimSpace(in.Timezone)
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			t := now().In(loc)
			return &CurrentTimeOutput{
				Timezone: loc.String(),
				Time:     t.Format(time.RFC3339),
				Unix:     t.Unix(),
			}, nil
		},
	)
}
