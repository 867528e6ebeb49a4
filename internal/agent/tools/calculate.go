package tools

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// ===================================
// Calculate Tool
// ===================================

type CalculateInput struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

type CalculateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

var errDivisionByZero = errors.New("division by zero")

func createCalculateTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCalculate,
			Desc: "Perform exact arithmetic on two numbers. Prefer this over mental math for any multiplication, division or multi-digit addition.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"operation": {
					Type:     "string",
					Desc:     "One of add, subtract, multiply, divide, power.",
					Enum:     []string{"add", "subtract", "multiply", "divide", "power"},
					Required: true,
				},
				"a": {
					Type:     "number",
					Desc:     "Left operand.",
					Required: true,
				},
				"b": {
					Type:     "number",
					Desc:     "Right operand.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *CalculateInput) (*CalculateOutput, error) {
			var (
				result float64
				symbol string
			)
			switch in.Operation {
			case "add":
				result, symbol = in.A+in.B, "+"
			case "subtract":
				result, symbol = in.A-in.B, "-"
			case "multiply":
				result, symbol = in.A*in.B, "*"
			case "divide":
				if in.B == 0 {
					return nil, errDivisionByZero
				}
				result, symbol = in.A/in.B, "/"
			case "power":
				result, symbol = math.Pow(in.A, in.B), "^"
			default:
				return nil, fmt.Errorf("unsupported operation %q", in.Operation)
			}
			if math.IsInf(result, 0) || math.IsNaN(result) {
				return nil, fmt.Errorf("result of %g %s %g is not a finite number", in.A, symbol, in.B)
			}
			return &CalculateOutput{
				Expression: fmt.Sprintf("%g %s %g", in.A, symbol, in.B),
				Result:     result,
			}, nil
		},
	)
}
