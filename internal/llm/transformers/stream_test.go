package transformers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func contentChunk(token string) *chatCompletionChunk {
	return &chatCompletionChunk{
		Choices: []streamChoice{{Delta: messageDelta{Content: token}}},
	}
}

func TestStreamAccumulator_SuppressesFunctionCallPrefix(t *testing.T) {
	acc := newStreamAccumulator()

	var emitted []string
	for _, token := range []string{`{`, `"`, `name`, `"`, `:`, ` "get_weather"}`} {
		got, _ := acc.apply(contentChunk(token))
		if got != "" && !acc.suppressed() {
			emitted = append(emitted, got)
		}
	}

	// Early prefixes pass through; once the buffer reads as a function call
	// in progress, nothing more is emitted.
	assert.Equal(t, []string{`{`, `"`, `name`}, emitted)
}

func TestStreamAccumulator_PlainTextNotSuppressed(t *testing.T) {
	acc := newStreamAccumulator()

	var emitted []string
	for _, token := range []string{"The ", "weather ", "is ", "sunny."} {
		got, _ := acc.apply(contentChunk(token))
		if got != "" && !acc.suppressed() {
			emitted = append(emitted, got)
		}
	}

	assert.Equal(t, []string{"The ", "weather ", "is ", "sunny."}, emitted)

	resp := acc.finalize(genai.FinishReasonStop, true)
	require.NotNil(t, resp)
	require.Len(t, resp.Content.Parts, 1)
	assert.Equal(t, "The weather is sunny.", resp.Content.Parts[0].Text)
}

func TestStreamAccumulator_ToolCallFragments(t *testing.T) {
	acc := newStreamAccumulator()

	acc.apply(&chatCompletionChunk{Choices: []streamChoice{{Delta: messageDelta{
		ToolCalls: []toolCallDelta{
			{Index: 0, ID: "call_1", Function: functionCallDelta{Name: "get_weather"}},
			{Index: 1, ID: "call_2", Function: functionCallDelta{Name: "get_current_time"}},
		},
	}}}})
	acc.apply(&chatCompletionChunk{Choices: []streamChoice{{Delta: messageDelta{
		ToolCalls: []toolCallDelta{
			{Index: 0, Function: functionCallDelta{Arguments: `{"city": `}},
			{Index: 1, Function: functionCallDelta{Arguments: `{"city": "New York"}`}},
		},
	}}}})
	_, finish := acc.apply(&chatCompletionChunk{Choices: []streamChoice{{
		Delta: messageDelta{ToolCalls: []toolCallDelta{
			{Index: 0, Function: functionCallDelta{Arguments: `"Singapore"}`}},
		}},
		FinishReason: "tool_calls",
	}}})
	assert.Equal(t, "tool_calls", finish)

	resp := acc.finalize(mapFinishReason(finish), true)
	require.NotNil(t, resp)
	assert.Equal(t, genai.FinishReasonStop, resp.FinishReason)
	require.Len(t, resp.Content.Parts, 2)

	first := resp.Content.Parts[0].FunctionCall
	require.NotNil(t, first)
	assert.Equal(t, "call_1", first.ID)
	assert.Equal(t, "get_weather", first.Name)
	assert.Equal(t, map[string]any{"city": "Singapore"}, first.Args)

	second := resp.Content.Parts[1].FunctionCall
	require.NotNil(t, second)
	assert.Equal(t, "get_current_time", second.Name)
	assert.Equal(t, map[string]any{"city": "New York"}, second.Args)
}

func TestStreamAccumulator_MalformedStreamArgsDefaultEmpty(t *testing.T) {
	acc := newStreamAccumulator()
	acc.apply(&chatCompletionChunk{Choices: []streamChoice{{Delta: messageDelta{
		ToolCalls: []toolCallDelta{
			{Index: 0, ID: "call_1", Function: functionCallDelta{Name: "get_weather", Arguments: `{truncated`}},
		},
	}}}})

	resp := acc.finalize(genai.FinishReasonStop, true)
	require.NotNil(t, resp)
	require.Len(t, resp.Content.Parts, 1)
	assert.Equal(t, map[string]any{}, resp.Content.Parts[0].FunctionCall.Args)
}

func TestStreamAccumulator_FinalizeRecoversTextCall(t *testing.T) {
	acc := newStreamAccumulator()
	for _, token := range []string{`{"name": "get_weather", `, `"parameters": {"city": "Singapore"}}`} {
		acc.apply(contentChunk(token))
	}

	resp := acc.finalize(genai.FinishReasonStop, true)
	require.NotNil(t, resp)
	require.Len(t, resp.Content.Parts, 1)
	fc := resp.Content.Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, map[string]any{"city": "Singapore"}, fc.Args)
}

func TestStreamAccumulator_FinalizeEmpty(t *testing.T) {
	assert.Nil(t, newStreamAccumulator().finalize(genai.FinishReasonStop, true))
}

func TestStreamAccumulator_Flush(t *testing.T) {
	acc := newStreamAccumulator()
	assert.Nil(t, acc.flush())

	acc.apply(contentChunk("partial answer"))
	resp := acc.flush()
	require.NotNil(t, resp)
	assert.Equal(t, genai.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, "partial answer", resp.Content.Parts[0].Text)
}

func TestReduceEventStream(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"not an sse line\n" +
		"data: {broken json}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n"

	resp := reduceEventStream(body, false)
	require.NoError(t, resp.Err())
	require.Len(t, resp.Content.Parts, 1)
	assert.Equal(t, "Hello", resp.Content.Parts[0].Text)
	assert.Equal(t, genai.FinishReasonStop, resp.FinishReason)
}

func TestReduceEventStream_Empty(t *testing.T) {
	resp := reduceEventStream("data: [DONE]\n", false)
	assert.Equal(t, ErrCodeNoContent, resp.ErrorCode)
}

func TestSSEPayload(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{`data: {"x":1}`, `{"x":1}`, true},
		{`data:{"x":1}`, `{"x":1}`, true},
		{"data: [DONE]", "", false},
		{"data:", "", false},
		{"", "", false},
		{"event: ping", "", false},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			got, ok := ssePayload(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		reason string
		want   genai.FinishReason
	}{
		{"stop", genai.FinishReasonStop},
		{"length", genai.FinishReasonMaxTokens},
		{"tool_calls", genai.FinishReasonStop},
		{"content_filter", genai.FinishReasonSafety},
		{"weird", genai.FinishReasonUnspecified},
		{"", genai.FinishReasonUnspecified},
	}

	for _, tt := range tests {
		t.Run("reason_"+tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, mapFinishReason(tt.reason))
		})
	}
}
