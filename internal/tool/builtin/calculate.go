package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	toolcore "github.com/harunnryd/medtriage/internal/tool"
)

var errDivisionByZero = errors.New("division by zero")

func init() {
	toolcore.RegisterBuiltin("calculate", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &CalculateTool{}, nil
	})
}

// CalculateTool does two-operand arithmetic, e.g. dose per kilogram.
type CalculateTool struct{}

func (t *CalculateTool) Name() string {
	return "calculate"
}

func (t *CalculateTool) Description() string {
	return "Perform basic arithmetic on two numbers (add, sub, mul, div)."
}

func (t *CalculateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{
				"type":        "number",
				"description": "First operand",
			},
			"b": map[string]interface{}{
				"type":        "number",
				"description": "Second operand",
			},
			"op": map[string]interface{}{
				"type":        "string",
				"pattern":     "^(add|sub|mul|div)$",
				"description": "One of add, sub, mul, div",
			},
		},
		"required": []string{"a", "b", "op"},
	}
}

func (t *CalculateTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		A  float64 `json:"a"`
		B  float64 `json:"b"`
		Op string  `json:"op"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var result float64
	switch args.Op {
	case "add":
		result = args.A + args.B
	case "sub":
		result = args.A - args.B
	case "mul":
		result = args.A * args.B
	case "div":
		if args.B == 0 {
			return nil, errDivisionByZero
		}
		result = args.A / args.B
	default:
		return nil, fmt.Errorf("unsupported op %q", args.Op)
	}

	if math.IsInf(result, 0) || math.IsNaN(result) {
		return nil, fmt.Errorf("result out of range")
	}
	return json.Marshal(map[string]float64{"result": result})
}
