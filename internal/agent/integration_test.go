package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2tx/transformers_agent/internal/llm/transformers"
	"github.com/m2tx/transformers_agent/internal/repository"
)

// Exercises the full loop against a fake endpoint: the first completion is a
// text-encoded function call, which must be recovered, executed, and answered
// in a follow-up request that carries the tool result.
func TestAgent_RecoversAndExecutesTextEncodedCall(t *testing.T) {
	var bodies []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		content := `{"name": "get_weather", "parameters": {"city": "Singapore"}}`
		if len(bodies) > 1 {
			content = "The weather in Singapore is sunny, 30 degrees."
		}
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": %q}}]}`, content)
	}))
	defer server.Close()

	model := transformers.New("meta-llama/Llama-3.2-1B-Instruct", transformers.Config{
		BaseURL:    server.URL + "/v1",
		MaxRetries: 1,
	})

	a := NewWithRepo(model, "You are a helpful agent.", repository.NewMemorySessionRepository())

	var invoked []map[string]any
	require.NoError(t, a.AddFunctionCall(weatherDeclaration(&invoked)))

	contents, err := a.Send(context.Background(), "s1", "What's the weather in Singapore?")
	require.NoError(t, err)

	require.Len(t, invoked, 1)
	assert.Equal(t, map[string]any{"city": "Singapore"}, invoked[0])

	require.Len(t, contents, 3)
	require.NotNil(t, contents[0].Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", contents[0].Parts[0].FunctionCall.Name)
	require.NotNil(t, contents[1].Parts[0].FunctionResponse)
	assert.Equal(t, "The weather in Singapore is sunny, 30 degrees.", contents[2].Parts[0].Text)

	require.Len(t, bodies, 2)

	// First request carries tool definitions for a weather query.
	assert.NotEmpty(t, bodies[0]["tools"])
	// Follow-up carries the tool result and withholds tools, so the second
	// completion text is kept as text instead of being re-read as a call.
	assert.Nil(t, bodies[1]["tools"])

	messages := bodies[1]["messages"].([]any)
	var sawToolMessage bool
	for _, m := range messages {
		if m.(map[string]any)["role"] == "tool" {
			sawToolMessage = true
		}
	}
	assert.True(t, sawToolMessage)
}
