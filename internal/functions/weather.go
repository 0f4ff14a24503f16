package functions

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/agent"
)

// CreateWeatherFunctionDeclaration returns the get_weather tool. Reports are
// canned; only Singapore is known.
func CreateWeatherFunctionDeclaration() *agent.FunctionDeclaration {
	return &agent.FunctionDeclaration{
		Name:        "get_weather",
		Description: "Retrieves the current weather report for a specified city.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"city": {
					Type:        genai.TypeString,
					Description: "The name of the city for which to retrieve the weather report.",
				},
			},
			Required: []string{"city"},
		},
		FunctionCall: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			city, ok := args["city"].(string)
			if !ok || city == "" {
				return nil, fmt.Errorf("get_weather: city argument is required")
			}

			if strings.ToLower(city) == "singapore" {
				return map[string]any{
					"status": "success",
					"report": "Singapore is experiencing partly cloudy conditions with a temperature of 30°C and high humidity. There's a chance of afternoon thunderstorms.",
				}, nil
			}

			return map[string]any{
				"status":        "error",
				"error_message": fmt.Sprintf("Weather information for '%s' is not available.", city),
			}, nil
		},
	}
}
