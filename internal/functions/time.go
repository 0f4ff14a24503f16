package functions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/agent"
)

// cityTimezones maps the cities the tool knows about to IANA identifiers.
var cityTimezones = map[string]string{
	"new york": "America/New_York",
}

// CreateTimeFunctionDeclaration returns the get_current_time tool.
func CreateTimeFunctionDeclaration() *agent.FunctionDeclaration {
	return &agent.FunctionDeclaration{
		Name:        "get_current_time",
		Description: "Returns the current time in a specified city.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"city": {
					Type:        genai.TypeString,
					Description: "The name of the city for which to retrieve the current time.",
				},
			},
			Required: []string{"city"},
		},
		FunctionCall: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			city, ok := args["city"].(string)
			if !ok || city == "" {
				return nil, fmt.Errorf("get_current_time: city argument is required")
			}

			tzID, ok := cityTimezones[strings.ToLower(city)]
			if !ok {
				return map[string]any{
					"status":        "error",
					"error_message": fmt.Sprintf("Sorry, I don't have timezone information for %s.", city),
				}, nil
			}

			loc, err := time.LoadLocation(tzID)
			if err != nil {
				return nil, fmt.Errorf("get_current_time: load location %q: %w", tzID, err)
			}

			now := time.Now().In(loc)
			return map[string]any{
				"status": "success",
				"report": fmt.Sprintf("The current time in %s is %s", city, now.Format("2006-01-02 15:04:05 MST-0700")),
			}, nil
		},
	}
}
