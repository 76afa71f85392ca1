package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
)

func weatherTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_Weather",
		Description: "Gets the current weather for a given location.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "location", Type: "string", Description: "City or place name", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			location, _ := params["location"].(string)
			return fmt.Sprintf("The current weather in %s is night with a high of 15°C.", location), nil
		},
	}
}

func locationTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_location",
		Description: "Returns the current location of the user.",
		Category:    toolexecutor.CategoryGeneral,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "You are in Barcelona.", nil
		},
	}
}

func addNumbersTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "add_numbers",
		Description: "Adds two numbers together.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "a", Type: "number", Description: "First addend", Required: true},
			{Name: "b", Type: "number", Description: "Second addend", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			a, err := toFloat(params["a"])
			if err != nil {
				return nil, fmt.Errorf("a: %w", err)
			}
			b, err := toFloat(params["b"])
			if err != nil {
				return nil, fmt.Errorf("b: %w", err)
			}
			return formatNumber(a + b), nil
		},
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

// formatNumber prints whole numbers without a fractional part
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
