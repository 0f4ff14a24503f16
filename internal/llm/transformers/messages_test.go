package transformers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertContents_SingleTextCollapses(t *testing.T) {
	messages := convertContents([]*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: "What's the weather in Singapore?"}},
		},
	})

	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "What's the weather in Singapore?", messages[0].Content)
}

func TestConvertContents_RoleMapping(t *testing.T) {
	tests := []struct {
		name string
		role string
		want string
	}{
		{"model", genai.RoleModel, "assistant"},
		{"assistant", "assistant", "assistant"},
		{"user", genai.RoleUser, "user"},
		{"system", "system", "system"},
		{"unknown defaults to user", "narrator", "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := convertContents([]*genai.Content{
				{Role: tt.role, Parts: []*genai.Part{{Text: "hi"}}},
			})
			require.Len(t, messages, 1)
			assert.Equal(t, tt.want, messages[0].Role)
		})
	}
}

func TestConvertContents_FunctionResponseBecomesToolMessages(t *testing.T) {
	messages := convertContents([]*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{Text: "ignored sibling"},
				{FunctionResponse: &genai.FunctionResponse{
					ID:       "call_1",
					Name:     "get_weather",
					Response: map[string]any{"status": "success"},
				}},
				{FunctionResponse: &genai.FunctionResponse{
					ID:       "call_2",
					Name:     "get_current_time",
					Response: map[string]any{"status": "error"},
				}},
			},
		},
	})

	require.Len(t, messages, 2)
	assert.Equal(t, "tool", messages[0].Role)
	assert.Equal(t, "call_1", messages[0].ToolCallID)
	assert.JSONEq(t, `{"status":"success"}`, messages[0].Content.(string))
	assert.Equal(t, "tool", messages[1].Role)
	assert.Equal(t, "call_2", messages[1].ToolCallID)
	assert.JSONEq(t, `{"status":"error"}`, messages[1].Content.(string))
}

func TestConvertContents_AssistantToolCalls(t *testing.T) {
	messages := convertContents([]*genai.Content{
		{
			Role: genai.RoleModel,
			Parts: []*genai.Part{
				{Text: "Let me check."},
				{FunctionCall: &genai.FunctionCall{
					ID:   "call_9",
					Name: "get_weather",
					Args: map[string]any{"city": "Singapore"},
				}},
			},
		},
	})

	require.Len(t, messages, 1)
	assert.Equal(t, "assistant", messages[0].Role)
	assert.Equal(t, "Let me check.", messages[0].Content)

	require.Len(t, messages[0].ToolCalls, 1)
	tc := messages[0].ToolCalls[0]
	assert.Equal(t, "call_9", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "get_weather", tc.Function.Name)
	assert.JSONEq(t, `{"city":"Singapore"}`, tc.Function.Arguments)
}

func TestConvertParts_InlineMedia(t *testing.T) {
	content := convertParts([]*genai.Part{
		{Text: "look at this"},
		{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
		{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: []byte{4, 5}}},
	})

	items, ok := content.([]contentItem)
	require.True(t, ok)
	require.Len(t, items, 3)

	assert.Equal(t, "text", items[0].Type)

	assert.Equal(t, "image_url", items[1].Type)
	require.NotNil(t, items[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,AQID", items[1].ImageURL.URL)

	assert.Equal(t, "input_audio", items[2].Type)
	require.NotNil(t, items[2].InputAudio)
	assert.Equal(t, "BAU=", items[2].InputAudio.Data)
	assert.Equal(t, "wav", items[2].InputAudio.Format)
}

func TestConvertParts_FileReferences(t *testing.T) {
	content := convertParts([]*genai.Part{
		{FileData: &genai.FileData{FileURI: "https://example.com/cat.png"}},
		{FileData: &genai.FileData{FileURI: "gs://bucket/report.pdf"}},
	})

	items, ok := content.([]contentItem)
	require.True(t, ok)
	require.Len(t, items, 2)

	assert.Equal(t, "image_url", items[0].Type)
	assert.Equal(t, "https://example.com/cat.png", items[0].ImageURL.URL)

	assert.Equal(t, "text", items[1].Type)
	assert.Equal(t, "[File: gs://bucket/report.pdf]", items[1].Text)
}

func TestConvertParts_LocalFileCollapsesToPlaceholderString(t *testing.T) {
	content := convertParts([]*genai.Part{
		{FileData: &genai.FileData{FileURI: "gs://bucket/report.pdf"}},
	})

	assert.Equal(t, "[File: gs://bucket/report.pdf]", content)
}

func TestConvertParts_EmptyIsEmptyString(t *testing.T) {
	assert.Equal(t, "", convertParts(nil))
	assert.Equal(t, "", convertParts([]*genai.Part{{}}))
}

func TestHasToolMessages(t *testing.T) {
	assert.False(t, hasToolMessages([]chatMessage{{Role: "user"}, {Role: "assistant"}}))
	assert.True(t, hasToolMessages([]chatMessage{{Role: "user"}, {Role: "tool"}}))
}
